package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store backed by a single SQLite table, grounded
// on the same sql.Open/init/CREATE TABLE pattern as
// internal/memory/sqlite_store.go. Entry.Recurrence and Data are JSON-encoded
// since Recurrence nests a Cron string, weekday lists, and optional end
// conditions that don't map cleanly onto flat columns the way the memory
// store's fields do.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed schedule
// store at path. path=":memory:" is valid for tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open sqlite store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_entries (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			next_fire_at DATETIME NOT NULL,
			recurrence TEXT,
			timezone TEXT,
			local_time TEXT,
			data TEXT,
			created_at DATETIME NOT NULL,
			fire_count INTEGER NOT NULL DEFAULT 0,
			fired_ids TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("scheduler: create table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_schedule_owner ON schedule_entries(owner_id)`)
	if err != nil {
		return fmt.Errorf("scheduler: create owner index: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(e Entry) error {
	recurrence, err := json.Marshal(e.Recurrence)
	if err != nil {
		return fmt.Errorf("scheduler: marshal recurrence: %w", err)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("scheduler: marshal data: %w", err)
	}
	firedIDs, err := json.Marshal(e.firedIDs)
	if err != nil {
		return fmt.Errorf("scheduler: marshal fired ids: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO schedule_entries
			(id, owner_id, next_fire_at, recurrence, timezone, local_time, data, created_at, fire_count, fired_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id=excluded.owner_id, next_fire_at=excluded.next_fire_at,
			recurrence=excluded.recurrence, timezone=excluded.timezone,
			local_time=excluded.local_time, data=excluded.data,
			fire_count=excluded.fire_count, fired_ids=excluded.fired_ids
	`, e.ID, e.OwnerID, e.NextFireAt, string(recurrence), e.Timezone, e.LocalTime,
		string(data), e.CreatedAt, e.FireCount, string(firedIDs))
	if err != nil {
		return fmt.Errorf("scheduler: save entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM schedule_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("scheduler: delete entry %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Get(id string) (Entry, bool) {
	row := s.db.QueryRow(`SELECT id, owner_id, next_fire_at, recurrence, timezone, local_time,
		data, created_at, fire_count, fired_ids FROM schedule_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, false
	}
	return e, true
}

func (s *SQLiteStore) List(ownerID string) []Entry {
	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = s.db.Query(`SELECT id, owner_id, next_fire_at, recurrence, timezone, local_time,
			data, created_at, fire_count, fired_ids FROM schedule_entries ORDER BY next_fire_at`)
	} else {
		rows, err = s.db.Query(`SELECT id, owner_id, next_fire_at, recurrence, timezone, local_time,
			data, created_at, fire_count, fired_ids FROM schedule_entries WHERE owner_id = ? ORDER BY next_fire_at`, ownerID)
	}
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// rowScanner abstracts sql.Row and sql.Rows so scanEntry works for both
// Get (single row) and List (multi-row) queries.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                                 Entry
		recurrence, data, firedIDs        string
		timezone, localTime               sql.NullString
		nextFireAt, createdAt             time.Time
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &nextFireAt, &recurrence, &timezone, &localTime,
		&data, &createdAt, &e.FireCount, &firedIDs); err != nil {
		return Entry{}, err
	}
	e.NextFireAt = nextFireAt
	e.CreatedAt = createdAt
	e.Timezone = timezone.String
	e.LocalTime = localTime.String

	if recurrence != "" && recurrence != "null" {
		if err := json.Unmarshal([]byte(recurrence), &e.Recurrence); err != nil {
			return Entry{}, fmt.Errorf("scheduler: unmarshal recurrence: %w", err)
		}
	}
	if data != "" && data != "null" {
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return Entry{}, fmt.Errorf("scheduler: unmarshal data: %w", err)
		}
	}
	if firedIDs != "" && firedIDs != "null" {
		if err := json.Unmarshal([]byte(firedIDs), &e.firedIDs); err != nil {
			return Entry{}, fmt.Errorf("scheduler: unmarshal fired ids: %w", err)
		}
	}
	return e, nil
}
