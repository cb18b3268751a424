package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shady2k/lifemodel/internal/tools"
)

// Provider adapts a Store to the narrow tools.MemoryProvider interface the
// built-in core.memory_search/core.remember/core.thought tools need.
type Provider struct {
	store Store
	now   func() time.Time
}

// NewProvider wraps store as a tools.MemoryProvider.
func NewProvider(store Store, opts ...Option) *Provider {
	p := &Provider{store: store, now: time.Now}
	if clock := clockFromOptions(opts); clock != nil {
		p.now = clock
	}
	return p
}

// Search implements tools.MemoryProvider.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]tools.MemorySearchHit, error) {
	hits, err := p.store.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	out := make([]tools.MemorySearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, tools.MemorySearchHit{ID: h.Entry.ID, Content: h.Entry.Content, Score: h.Score})
	}
	return out, nil
}

// SaveThought implements tools.MemoryProvider. Thoughts are append-only: no
// subject/attribute pair applies, so every call is a new entry.
func (p *Provider) SaveThought(ctx context.Context, content string, tags []string) error {
	_, err := p.store.Upsert(ctx, Entry{
		Type:      KindThought,
		Content:   content,
		Tags:      tags,
		Timestamp: p.now(),
	})
	if err != nil {
		return fmt.Errorf("memory: save thought: %w", err)
	}
	return nil
}

// Remember implements tools.MemoryProvider, translating a RememberRequest
// into the fact-upsert shape Store.Upsert enforces.
func (p *Provider) Remember(ctx context.Context, req tools.RememberRequest) error {
	_, err := p.store.Upsert(ctx, Entry{
		Type:       KindFact,
		Content:    req.Value,
		Confidence: req.Confidence,
		Timestamp:  p.now(),
		Metadata: map[string]any{
			"subject":   req.Subject,
			"attribute": req.Attribute,
			"source":    string(req.Source),
			"evidence":  req.Evidence,
		},
	})
	if err != nil {
		return fmt.Errorf("memory: remember: %w", err)
	}
	return nil
}

// Intentions returns every stored intention entry, for the orchestrator's
// scheduling/reflection pass.
func (p *Provider) Intentions(ctx context.Context) ([]Entry, error) {
	return p.store.List(ctx, KindIntention)
}

// Facts returns every stored fact entry.
func (p *Provider) Facts(ctx context.Context) ([]Entry, error) {
	return p.store.List(ctx, KindFact)
}

// RecordIntention upserts a new or updated intention entry.
func (p *Provider) RecordIntention(ctx context.Context, content, trigger string, status IntentionStatus, expiresAt *time.Time) (Entry, error) {
	return p.store.Upsert(ctx, Entry{
		Type:      KindIntention,
		Content:   content,
		Trigger:   trigger,
		Status:    status,
		ExpiresAt: expiresAt,
		Timestamp: p.now(),
	})
}

// Decay runs the confidence-decay pass over the underlying store.
func (p *Provider) Decay(ctx context.Context, halfLife time.Duration, floor float64) (int, error) {
	return p.store.Decay(ctx, p.now(), halfLife, floor)
}
