package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/shady2k/lifemodel/internal/loop"
)

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []Message, prompt string) (string, error) {
	f.calls++
	return "summary of a conversation", nil
}

func TestCompactReplacesOldestPrefixWithSummary(t *testing.T) {
	store := NewMemoryStore()
	summarizer := &fakeSummarizer{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.KeepLastN = 3
	cfg.MaxMessages = 5

	mgr := NewManager(store, WithSummarizer(summarizer), WithConfig(cfg), WithNow(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		mgr.Append(ctx, "u1", Message{Role: loop.RoleUser, Content: "message"})
	}

	should, _, err := mgr.ShouldCompact(ctx, "u1")
	if err != nil {
		t.Fatalf("shouldCompact: %v", err)
	}
	if !should {
		t.Fatal("expected compaction to be triggered by message count")
	}

	result, err := mgr.Compact(ctx, "u1")
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if result.CountBefore != 8 {
		t.Fatalf("expected 8 messages before compaction, got %d", result.CountBefore)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected exactly one summarize call, got %d", summarizer.calls)
	}

	history, _ := store.History(ctx, "u1", 0)
	if len(history) != 1+cfg.KeepLastN {
		t.Fatalf("expected summary + %d kept messages, got %d", cfg.KeepLastN, len(history))
	}
	if history[0].Metadata["compactionSummary"] != true {
		t.Fatalf("expected first message to be the compaction summary, got %+v", history[0])
	}
}

func TestSystemMessagesPreservedAcrossCompaction(t *testing.T) {
	store := NewMemoryStore()
	summarizer := &fakeSummarizer{}
	cfg := DefaultConfig()
	cfg.KeepLastN = 1
	cfg.MaxMessages = 2

	mgr := NewManager(store, WithSummarizer(summarizer), WithConfig(cfg))
	ctx := context.Background()

	mgr.Append(ctx, "u1", Message{Role: loop.RoleSystem, Content: "system prompt"})
	mgr.Append(ctx, "u1", Message{Role: loop.RoleUser, Content: "one"})
	mgr.Append(ctx, "u1", Message{Role: loop.RoleUser, Content: "two"})
	mgr.Append(ctx, "u1", Message{Role: loop.RoleUser, Content: "three"})

	result, err := mgr.Compact(ctx, "u1")
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	_ = result

	history, _ := store.History(ctx, "u1", 0)
	found := false
	for _, m := range history {
		if m.Role == loop.RoleSystem && m.Content == "system prompt" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected original system message preserved across compaction")
	}
}

func TestCompactIfNeededSkipsWhenUnderThreshold(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, WithConfig(DefaultConfig()))
	ctx := context.Background()
	mgr.Append(ctx, "u1", Message{Role: loop.RoleUser, Content: "hi"})

	result, err := mgr.CompactIfNeeded(ctx, "u1")
	if err != nil {
		t.Fatalf("compactIfNeeded: %v", err)
	}
	if result != nil {
		t.Fatal("expected no compaction below threshold")
	}
}
