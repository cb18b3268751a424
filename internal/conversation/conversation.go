// Package conversation implements the conversation manager (C11): a
// per-recipient ordered message history with single-strategy (hybrid)
// compaction.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shady2k/lifemodel/internal/loop"
)

// Message is one entry in a recipient's ordered history.
type Message struct {
	ID        string
	Role      loop.Role
	Content   string
	CreatedAt time.Time
	Metadata  map[string]any
}

// Store persists per-recipient message history.
type Store interface {
	Append(ctx context.Context, recipientID string, msg Message) error
	History(ctx context.Context, recipientID string, limit int) ([]Message, error)
	Replace(ctx context.Context, recipientID string, msgs []Message) error
}

// MemoryStore is an in-process Store, keyed by recipient.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Message
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Message)}
}

// Append adds msg to the end of recipientID's history.
func (s *MemoryStore) Append(ctx context.Context, recipientID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[recipientID] = append(s.data[recipientID], msg)
	return nil
}

// History returns the last limit messages (0 means all), oldest first.
func (s *MemoryStore) History(ctx context.Context, recipientID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.data[recipientID]
	if limit <= 0 || limit >= len(all) {
		out := make([]Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]Message, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// Replace overwrites recipientID's entire history, used by compaction.
func (s *MemoryStore) Replace(ctx context.Context, recipientID string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[recipientID] = msgs
	return nil
}

// Summarizer generates a prose summary of a message slice, grounded on
// internal/sessions/compaction.go's Summarizer interface; the agentic
// loop's Provider satisfies this via a thin adapter (see Summarize below).
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message, prompt string) (string, error)
}

// ProviderSummarizer adapts a loop.Provider into a Summarizer by issuing a
// single non-tool completion request.
type ProviderSummarizer struct {
	Provider loop.Provider
	Model    string
}

// Summarize implements Summarizer.
func (p ProviderSummarizer) Summarize(ctx context.Context, messages []Message, prompt string) (string, error) {
	var transcript string
	for _, m := range messages {
		transcript += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
	}
	resp, err := p.Provider.Complete(ctx, loop.CompletionRequest{
		Model: p.Model,
		Messages: []loop.Message{
			{Role: loop.RoleUser, Content: prompt + "\n\nConversation:\n" + transcript},
		},
	})
	if err != nil {
		return "", fmt.Errorf("conversation: summarize: %w", err)
	}
	return resp.Content, nil
}

// Config configures one recipient's compaction thresholds, grounded on
// internal/sessions/compaction.go's CompactionConfig (trigger-on-any-
// threshold idiom), narrowed to the single hybrid strategy the spec
// requires.
type Config struct {
	Enabled     bool
	MaxMessages int
	MaxTokens   int
	MaxAgeHours int
	KeepLastN   int

	PreserveSystemMessages bool
	SummaryPrompt          string
}

// DefaultConfig mirrors the teacher's DefaultCompactionConfig defaults,
// narrowed to hybrid-only.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		MaxMessages:            100,
		MaxTokens:              50000,
		MaxAgeHours:            24,
		KeepLastN:              20,
		PreserveSystemMessages: true,
		SummaryPrompt: `Summarize the following conversation concisely, preserving key
decisions, important context, user preferences, and pending items.`,
	}
}

// Manager owns per-recipient history and compaction.
type Manager struct {
	store      Store
	summarizer Summarizer
	cfg        Config
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithSummarizer(s Summarizer) Option { return func(m *Manager) { m.summarizer = s } }
func WithConfig(cfg Config) Option       { return func(m *Manager) { m.cfg = cfg } }
func WithNow(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager constructs a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, cfg: DefaultConfig(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append records a new message for recipientID.
func (m *Manager) Append(ctx context.Context, recipientID string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	return m.store.Append(ctx, recipientID, msg)
}

// History returns the full (or last limit) ordered history for recipientID.
func (m *Manager) History(ctx context.Context, recipientID string, limit int) ([]Message, error) {
	return m.store.History(ctx, recipientID, limit)
}

// estimateTokens is the same ~4-chars-per-token heuristic the teacher uses.
func estimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content) + 20
	}
	return total / 4
}

// ShouldCompact reports whether recipientID's history crosses any configured
// threshold (message count, token estimate, or age — any one triggers).
func (m *Manager) ShouldCompact(ctx context.Context, recipientID string) (bool, string, error) {
	if !m.cfg.Enabled {
		return false, "", nil
	}
	history, err := m.store.History(ctx, recipientID, 0)
	if err != nil {
		return false, "", err
	}
	if m.cfg.MaxMessages > 0 && len(history) > m.cfg.MaxMessages {
		return true, fmt.Sprintf("message count %d exceeds threshold %d", len(history), m.cfg.MaxMessages), nil
	}
	if m.cfg.MaxTokens > 0 {
		if tokens := estimateTokens(history); tokens > m.cfg.MaxTokens {
			return true, fmt.Sprintf("estimated tokens %d exceeds threshold %d", tokens, m.cfg.MaxTokens), nil
		}
	}
	if m.cfg.MaxAgeHours > 0 && len(history) > 0 {
		threshold := m.now().Add(-time.Duration(m.cfg.MaxAgeHours) * time.Hour)
		if history[0].CreatedAt.Before(threshold) {
			return true, "oldest message exceeds age threshold", nil
		}
	}
	return false, "", nil
}

// Result reports what one Compact call did.
type Result struct {
	RecipientID    string
	CountBefore    int
	CountAfter     int
	Summary        string
	SummarizedFrom int
	CompactedAt    time.Time
}

// Compact applies the single hybrid strategy: summarize the oldest prefix
// (everything beyond the last KeepLastN non-system messages) and replace it
// with one summary message, keeping system messages and the recent tail
// verbatim.
func (m *Manager) Compact(ctx context.Context, recipientID string) (*Result, error) {
	history, err := m.store.History(ctx, recipientID, 0)
	if err != nil {
		return nil, fmt.Errorf("conversation: compact: %w", err)
	}

	keepLastN := m.cfg.KeepLastN
	if keepLastN <= 0 {
		keepLastN = 10
	}

	var systemMsgs, toSummarize, toKeep []Message
	for i, msg := range history {
		if msg.Role == loop.RoleSystem && m.cfg.PreserveSystemMessages {
			systemMsgs = append(systemMsgs, msg)
			continue
		}
		if i < len(history)-keepLastN {
			toSummarize = append(toSummarize, msg)
		} else {
			toKeep = append(toKeep, msg)
		}
	}

	var summary string
	if len(toSummarize) > 0 && m.summarizer != nil {
		summary, err = m.summarizer.Summarize(ctx, toSummarize, m.cfg.SummaryPrompt)
		if err != nil {
			return nil, fmt.Errorf("conversation: summarize: %w", err)
		}
	}

	compacted := append([]Message{}, systemMsgs...)
	if summary != "" {
		compacted = append(compacted, Message{
			Role:      loop.RoleSystem,
			Content:   "[Conversation Summary]\n" + summary,
			CreatedAt: m.now(),
			Metadata: map[string]any{
				"compactionSummary": true,
				"summarizedCount":   len(toSummarize),
			},
		})
	}
	compacted = append(compacted, toKeep...)

	if err := m.store.Replace(ctx, recipientID, compacted); err != nil {
		return nil, fmt.Errorf("conversation: replace: %w", err)
	}

	return &Result{
		RecipientID:     recipientID,
		CountBefore:     len(history),
		CountAfter:      len(compacted),
		Summary:         summary,
		SummarizedFrom:  len(toSummarize),
		CompactedAt:     m.now(),
	}, nil
}

// CompactIfNeeded runs ShouldCompact then Compact, returning nil, nil if no
// compaction was needed.
func (m *Manager) CompactIfNeeded(ctx context.Context, recipientID string) (*Result, error) {
	should, _, err := m.ShouldCompact(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if !should {
		return nil, nil
	}
	return m.Compact(ctx, recipientID)
}
