package scheduler

import (
	"testing"
	"time"
)

func TestSQLiteStoreSaveGetList(t *testing.T) {
	store, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	entry := Entry{
		ID:         "sched-1",
		OwnerID:    "user-1",
		NextFireAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		Data:       map[string]any{"reason": "check in"},
		CreatedAt:  time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC),
	}
	if err := store.Save(entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok := store.Get("sched-1")
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if got.OwnerID != "user-1" || got.Data["reason"] != "check in" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	list := store.List("user-1")
	if len(list) != 1 {
		t.Fatalf("expected one entry for owner, got %d", len(list))
	}

	if err := store.Delete("sched-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.Get("sched-1"); ok {
		t.Fatal("expected entry to be gone after delete")
	}
}
