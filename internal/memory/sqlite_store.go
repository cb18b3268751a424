package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store backed by a single SQLite table, grounded on
// the teacher's sqlitevec backend's sql.Open/init/CREATE TABLE pattern
// (internal/memory/backend/sqlitevec/backend.go) but storing structured
// fact/thought/intention rows instead of embeddings.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed memory store
// at path. path=":memory:" is valid for tests.
func OpenSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite store: %w", err)
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if clock := clockFromOptions(opts); clock != nil {
		s.now = clock
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// clockFromOptions extracts the clock WithNow sets on a MemoryStore so
// SQLiteStore can share the same Option type for deterministic tests.
func clockFromOptions(opts []Option) func() time.Time {
	probe := &MemoryStore{}
	for _, opt := range opts {
		opt(probe)
	}
	return probe.now
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			recipient TEXT,
			tags TEXT,
			confidence REAL,
			metadata TEXT,
			trigger_text TEXT,
			status TEXT,
			expires_at DATETIME,
			subject_attribute TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("memory: create table: %w", err)
	}
	_, err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_fact_upsert
		ON memory_entries(subject_attribute) WHERE subject_attribute IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("memory: create fact index: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_memory_type ON memory_entries(type)`)
	if err != nil {
		return fmt.Errorf("memory: create type index: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func marshalEntry(e Entry) (tags, metadata string, subjectAttr sql.NullString, err error) {
	tagsB, err := json.Marshal(e.Tags)
	if err != nil {
		return "", "", sql.NullString{}, err
	}
	metaB, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", "", sql.NullString{}, err
	}
	if key, ok := subjectAttribute(e); ok {
		subjectAttr = sql.NullString{String: key, Valid: true}
	}
	return string(tagsB), string(metaB), subjectAttr, nil
}

// Upsert implements the fact upsert invariant via SQLite's ON CONFLICT over
// a unique index on (subject, attribute), preserving the original id.
func (s *SQLiteStore) Upsert(ctx context.Context, e Entry) (Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}

	if key, ok := subjectAttribute(e); ok {
		var existingID string
		row := s.db.QueryRowContext(ctx, `SELECT id FROM memory_entries WHERE subject_attribute = ?`, key)
		switch err := row.Scan(&existingID); err {
		case nil:
			e.ID = existingID
		case sql.ErrNoRows:
			if e.ID == "" {
				e.ID = newID()
			}
		default:
			return Entry{}, fmt.Errorf("memory: lookup fact: %w", err)
		}
	} else if e.ID == "" {
		e.ID = newID()
	}

	tags, metadata, subjectAttr, err := marshalEntry(e)
	if err != nil {
		return Entry{}, err
	}
	var expiresAt any
	if e.ExpiresAt != nil {
		expiresAt = e.ExpiresAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, type, content, timestamp, recipient, tags, confidence, metadata, trigger_text, status, expires_at, subject_attribute)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, content=excluded.content, timestamp=excluded.timestamp,
			recipient=excluded.recipient, tags=excluded.tags, confidence=excluded.confidence,
			metadata=excluded.metadata, trigger_text=excluded.trigger_text, status=excluded.status,
			expires_at=excluded.expires_at, subject_attribute=excluded.subject_attribute
	`, e.ID, string(e.Type), e.Content, e.Timestamp.UTC(), e.Recipient, tags, e.Confidence, metadata,
		e.Trigger, string(e.Status), expiresAt, subjectAttr)
	if err != nil {
		return Entry{}, fmt.Errorf("memory: upsert: %w", err)
	}
	return e, nil
}

func newID() string {
	return uuid.NewString()
}

func (s *SQLiteStore) scanRow(row interface {
	Scan(dest ...any) error
}) (Entry, error) {
	var e Entry
	var tags, metadata sql.NullString
	var recipient, trigger, status sql.NullString
	var confidence sql.NullFloat64
	var expiresAt sql.NullTime
	var subjectAttr sql.NullString
	var typ string
	var ts time.Time

	if err := row.Scan(&e.ID, &typ, &e.Content, &ts, &recipient, &tags, &confidence, &metadata, &trigger, &status, &expiresAt, &subjectAttr); err != nil {
		return Entry{}, err
	}
	e.Type = Kind(typ)
	e.Timestamp = ts
	e.Recipient = recipient.String
	e.Trigger = trigger.String
	e.Status = IntentionStatus(status.String)
	e.Confidence = confidence.Float64
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &e.Tags)
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
	}
	return e, nil
}

const selectCols = `id, type, content, timestamp, recipient, tags, confidence, metadata, trigger_text, status, expires_at, subject_attribute`

// Get returns one entry by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM memory_entries WHERE id = ?`, id)
	e, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("memory: get: %w", err)
	}
	return e, true, nil
}

// Delete removes an entry by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	return nil
}

// List returns all entries of a kind, newest first. kind=="" returns all.
func (s *SQLiteStore) List(ctx context.Context, kind Kind) ([]Entry, error) {
	query := `SELECT ` + selectCols + ` FROM memory_entries`
	args := []any{}
	if kind != "" {
		query += ` WHERE type = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Search performs a LIKE-based substring match, scored in Go by term
// coverage and recency, mirroring MemoryStore.Search's scoring so callers
// see identical ranking behavior across both backends.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil, nil
	}
	terms := strings.Fields(q)

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectCols+` FROM memory_entries`)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var hits []Hit
	for rows.Next() {
		e, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
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
		if e.Confidence > 0 {
			score *= e.Confidence
		}
		age := now.Sub(e.Timestamp)
		recencyBoost := 1.0 / (1.0 + age.Hours()/24.0)
		hits = append(hits, Hit{Entry: e, Score: score * (0.5 + 0.5*recencyBoost)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Decay applies the same half-life confidence decay as MemoryStore.Decay,
// against the durable table.
func (s *SQLiteStore) Decay(ctx context.Context, now time.Time, halfLife time.Duration, floor float64) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, confidence, timestamp, subject_attribute FROM memory_entries WHERE confidence > 0`)
	if err != nil {
		return 0, fmt.Errorf("memory: decay scan: %w", err)
	}
	type row struct {
		id          string
		confidence  float64
		timestamp   time.Time
		subjectAttr sql.NullString
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.confidence, &r.timestamp, &r.subjectAttr); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	dropped := 0
	for _, r := range all {
		age := now.Sub(r.timestamp)
		if age <= 0 || halfLife <= 0 {
			continue
		}
		halvings := age.Hours() / halfLife.Hours()
		decayed := r.confidence * math.Pow(2, -halvings)
		if decayed < floor {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, r.id); err != nil {
				return dropped, fmt.Errorf("memory: decay delete: %w", err)
			}
			dropped++
			continue
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE memory_entries SET confidence = ? WHERE id = ?`, decayed, r.id); err != nil {
			return dropped, fmt.Errorf("memory: decay update: %w", err)
		}
	}
	return dropped, nil
}
