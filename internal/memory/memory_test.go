package memory

import (
	"context"
	"testing"
	"time"
)

func TestFactUpsertPreservesID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Upsert(ctx, Entry{
		Type:       KindFact,
		Content:    "likes coffee",
		Confidence: 0.9,
		Metadata:   map[string]any{"subject": "user", "attribute": "beverage"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected a generated id")
	}

	second, err := store.Upsert(ctx, Entry{
		Type:       KindFact,
		Content:    "likes tea",
		Confidence: 0.95,
		Metadata:   map[string]any{"subject": "user", "attribute": "beverage"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected id preserved across fact upsert, got %q then %q", first.ID, second.ID)
	}

	all, err := store.List(ctx, KindFact)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one fact entry after upsert, got %d", len(all))
	}
	if all[0].Content != "likes tea" {
		t.Fatalf("expected updated content, got %q", all[0].Content)
	}
}

func TestDistinctAttributesDoNotCollide(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Upsert(ctx, Entry{Type: KindFact, Content: "blue", Metadata: map[string]any{"subject": "user", "attribute": "favorite_color"}})
	store.Upsert(ctx, Entry{Type: KindFact, Content: "coffee", Metadata: map[string]any{"subject": "user", "attribute": "beverage"}})

	all, _ := store.List(ctx, KindFact)
	if len(all) != 2 {
		t.Fatalf("expected two distinct fact entries, got %d", len(all))
	}
}

func TestSearchRanksByTermCoverageAndRecency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithNow(func() time.Time { return now }))
	ctx := context.Background()

	store.Upsert(ctx, Entry{Type: KindThought, Content: "the user enjoys hiking on weekends", Confidence: 1, Timestamp: now.Add(-72 * time.Hour)})
	store.Upsert(ctx, Entry{Type: KindThought, Content: "user mentioned hiking trip", Confidence: 1, Timestamp: now.Add(-1 * time.Hour)})

	hits, err := store.Search(ctx, "hiking", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected two matches, got %d", len(hits))
	}
	if hits[0].Entry.Content != "user mentioned hiking trip" {
		t.Fatalf("expected more recent entry ranked first, got %q", hits[0].Entry.Content)
	}
}

func TestDecayDropsBelowFloor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithNow(func() time.Time { return now }))
	ctx := context.Background()

	store.Upsert(ctx, Entry{Type: KindThought, Content: "old idle thought", Confidence: 0.5, Timestamp: now.Add(-30 * 24 * time.Hour)})
	store.Upsert(ctx, Entry{Type: KindThought, Content: "fresh thought", Confidence: 0.5, Timestamp: now})

	dropped, err := store.Decay(ctx, now, 7*24*time.Hour, 0.05)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("expected exactly one entry dropped, got %d", dropped)
	}

	all, _ := store.List(ctx, KindThought)
	if len(all) != 1 || all[0].Content != "fresh thought" {
		t.Fatalf("expected only the fresh thought to survive, got %+v", all)
	}
}

func TestDeleteClearsFactIndex(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e, _ := store.Upsert(ctx, Entry{Type: KindFact, Content: "v1", Metadata: map[string]any{"subject": "user", "attribute": "x"}})
	if err := store.Delete(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// A new write with the same subject/attribute should mint a fresh id,
	// not silently resurrect the deleted one.
	second, _ := store.Upsert(ctx, Entry{Type: KindFact, Content: "v2", Metadata: map[string]any{"subject": "user", "attribute": "x"}})
	if second.ID == e.ID {
		t.Fatal("expected a new id after deleting the prior fact")
	}
}
