// Package memory implements the memory provider (C10): a searchable store of
// facts, thoughts, and intentions with confidence-weighted decay.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the memory entry types.
type Kind string

const (
	KindMessage   Kind = "message"
	KindThought   Kind = "thought"
	KindFact      Kind = "fact"
	KindIntention Kind = "intention"
)

// IntentionStatus enumerates the lifecycle of an intention entry.
type IntentionStatus string

const (
	IntentionPending IntentionStatus = "pending"
	IntentionActive  IntentionStatus = "active"
	IntentionDone    IntentionStatus = "done"
	IntentionDropped IntentionStatus = "dropped"
)

// Entry is one stored memory item (§3 Memory entry).
type Entry struct {
	ID         string
	Type       Kind
	Content    string
	Timestamp  time.Time
	Recipient  string
	Tags       []string
	Confidence float64
	Metadata   map[string]any

	// Intention-only fields.
	Trigger   string
	Status    IntentionStatus
	ExpiresAt *time.Time
}

// subjectAttribute returns the fact-upsert key, or "" if this entry isn't a
// fact or lacks the pair.
func subjectAttribute(e Entry) (string, bool) {
	if e.Type != KindFact || e.Metadata == nil {
		return "", false
	}
	subject, _ := e.Metadata["subject"].(string)
	attribute, _ := e.Metadata["attribute"].(string)
	if subject == "" || attribute == "" {
		return "", false
	}
	return subject + "\x00" + attribute, true
}

// Hit is one scored search result.
type Hit struct {
	Entry Entry
	Score float64
}

// Store persists and retrieves memory entries.
type Store interface {
	Upsert(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, kind Kind) ([]Entry, error)
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Decay(ctx context.Context, now time.Time, halfLife time.Duration, floor float64) (int, error)
}

// MemoryStore is an in-memory Store, used for tests and as the default when
// no persistence backend is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	factIdx map[string]string // subject\x00attribute -> entry id
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]Entry),
		factIdx: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithNow injects a deterministic clock.
func WithNow(now func() time.Time) Option { return func(s *MemoryStore) { s.now = now } }

// Upsert writes e, honoring the fact upsert invariant: for type=fact, the
// (metadata.subject, metadata.attribute) pair is unique, and a write with a
// matching pair updates in place, preserving the original id.
func (s *MemoryStore) Upsert(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}

	if key, ok := subjectAttribute(e); ok {
		if existingID, found := s.factIdx[key]; found {
			e.ID = existingID
			s.entries[existingID] = e
			return e, nil
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.factIdx[key] = e.ID
		s.entries[e.ID] = e
		return e, nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.entries[e.ID] = e
	return e, nil
}

// Get returns one entry by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok, nil
}

// Delete removes an entry by id, clearing any fact index pointing at it.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		if key, ok := subjectAttribute(e); ok {
			delete(s.factIdx, key)
		}
	}
	delete(s.entries, id)
	return nil
}

// List returns all entries of a given kind, newest first. kind=="" returns
// all entries.
func (s *MemoryStore) List(ctx context.Context, kind Kind) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if kind != "" && e.Type != kind {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Search performs a case-insensitive substring match over entry content,
// scoring by term-frequency and recency. This is deliberately not a vector
// semantic search: C10 stores structured facts/thoughts/intentions rather
// than embeddings over free-form documents.
func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil, nil
	}
	terms := strings.Fields(q)

	var hits []Hit
	now := s.now()
	for _, e := range s.entries {
		content := strings.ToLower(e.Content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(terms))
		score *= e.Confidence
		if e.Confidence == 0 {
			score = float64(matched) / float64(len(terms))
		}
		age := now.Sub(e.Timestamp)
		recencyBoost := 1.0 / (1.0 + age.Hours()/24.0)
		hits = append(hits, Hit{Entry: e, Score: score * (0.5 + 0.5*recencyBoost)})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Decay reduces every entry's confidence by a half-life factor based on age,
// dropping entries whose decayed confidence falls below floor. Facts with
// confidence 0 (never set) are left untouched. Returns the number dropped.
func (s *MemoryStore) Decay(ctx context.Context, now time.Time, halfLife time.Duration, floor float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, e := range s.entries {
		if e.Confidence <= 0 {
			continue
		}
		age := now.Sub(e.Timestamp)
		if age <= 0 || halfLife <= 0 {
			continue
		}
		halvings := age.Hours() / halfLife.Hours()
		decayed := e.Confidence * math.Pow(2, -halvings)
		if decayed < floor {
			if key, ok := subjectAttribute(e); ok {
				delete(s.factIdx, key)
			}
			delete(s.entries, id)
			dropped++
			continue
		}
		e.Confidence = decayed
		s.entries[id] = e
	}
	return dropped, nil
}
