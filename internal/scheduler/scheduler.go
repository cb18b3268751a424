package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// dedupeRetention bounds how many fireIds are kept per schedule for dedup
// purposes; older entries are trimmed on each markFired.
const dedupeRetention = 32

// Store persists schedule entries. The scheduler calls it after every
// mutation; persistence durability itself is the storage collaborator's
// responsibility, not the scheduler's.
type Store interface {
	Save(e Entry) error
	Delete(id string) error
	Get(id string) (Entry, bool)
	List(ownerID string) []Entry
}

// MemoryStore is an in-memory Store, used by default and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Save(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	return nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *MemoryStore) List(ownerID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if ownerID == "" || e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithNow injects a clock for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithStore overrides the default in-memory Store.
func WithStore(store Store) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithOwnerQuota caps how many live schedules a single owner may hold; zero
// means unlimited.
func WithOwnerQuota(n int) Option {
	return func(s *Scheduler) { s.ownerQuota = n }
}

// Scheduler stores schedules and computes due fires with DST-aware
// recurrence and at-least-once, deduplicated delivery.
type Scheduler struct {
	mu         sync.Mutex
	store      Store
	now        func() time.Time
	log        *slog.Logger
	ownerQuota int
}

// New constructs a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		store: NewMemoryStore(),
		now:   time.Now,
		log:   slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleOptions describes a new schedule request.
type ScheduleOptions struct {
	OwnerID    string
	FireAt     time.Time
	Recurrence *Recurrence
	Timezone   string
	LocalTime  string
	Data       map[string]any
}

// Schedule validates and persists a new entry, returning its id. Cron
// recurrences are validated fail-fast at creation time.
func (s *Scheduler) Schedule(opts ScheduleOptions) (string, error) {
	if opts.Recurrence != nil && opts.Recurrence.Frequency == FrequencyCustom {
		if err := ValidateCron(opts.Recurrence.Cron); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ownerQuota > 0 {
		if len(s.store.List(opts.OwnerID)) >= s.ownerQuota {
			return "", ErrScheduleLimitExceeded
		}
	}

	now := s.now()
	entry := Entry{
		ID:         uuid.NewString(),
		OwnerID:    opts.OwnerID,
		NextFireAt: opts.FireAt,
		Recurrence: opts.Recurrence,
		Timezone:   opts.Timezone,
		LocalTime:  opts.LocalTime,
		Data:       opts.Data,
		CreatedAt:  now,
	}
	if entry.NextFireAt.IsZero() {
		entry.NextFireAt = now
	}
	if err := s.store.Save(entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Cancel removes a schedule and purges its dedup list. Reports whether the
// id existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store.Get(id); !ok {
		return false
	}
	_ = s.store.Delete(id)
	return true
}

// CheckDueSchedules is a non-mutating selection of entries whose
// NextFireAt has arrived, paired with their idempotency key. Entries whose
// fireId is already in the dedup list are excluded even though due.
func (s *Scheduler) CheckDueSchedules(now time.Time) []Due {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Due
	for _, e := range s.store.List("") {
		if e.NextFireAt.After(now) {
			continue
		}
		fireID := FireID(e.ID, e.NextFireAt)
		if contains(e.firedIDs, fireID) {
			continue
		}
		due = append(due, Due{Entry: e, FireID: fireID})
	}
	return due
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// MarkFired records the fireId (trimmed to dedupeRetention), increments
// fireCount, and advances recurring entries (or removes one-shots). Safe to
// call even if the fireId was already recorded (idempotent).
func (s *Scheduler) MarkFired(id, fireID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.store.Get(id)
	if !ok {
		return nil
	}

	if !contains(e.firedIDs, fireID) {
		e.firedIDs = append(e.firedIDs, fireID)
		if len(e.firedIDs) > dedupeRetention {
			e.firedIDs = e.firedIDs[len(e.firedIDs)-dedupeRetention:]
		}
	}
	e.FireCount++

	if e.Recurrence == nil {
		return s.store.Delete(id)
	}

	next, ok, err := NextOccurrence(e, now)
	if err != nil {
		s.log.Warn("recurrence advance failed, treating as ended", "schedule_id", id, "error", err)
		return s.store.Delete(id)
	}
	if !ok {
		return s.store.Delete(id)
	}
	e.NextFireAt = next
	return s.store.Save(e)
}

// UpdateScheduleData replaces an entry's opaque data in place, with no
// recurrence changes. Reports whether the id existed.
func (s *Scheduler) UpdateScheduleData(id string, data map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.store.Get(id)
	if !ok {
		return false
	}
	e.Data = data
	_ = s.store.Save(e)
	return true
}

// List returns all schedules for an owner (or all, if ownerID is empty).
func (s *Scheduler) List(ownerID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List(ownerID)
}

// Get returns a single entry by id.
func (s *Scheduler) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(id)
}
