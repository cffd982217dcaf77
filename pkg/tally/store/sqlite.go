package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/tally/pkg/tally/event"
)

// SQLiteStore persists events to SQLite. Each mutation is its own
// transaction, so the database is always a consistent snapshot.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	max    int
	count  int
	closed bool
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the events database at path.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteStore(path string, maxEvents int, opts ...Option) (*SQLiteStore, error) {
	o := applyOptions(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			client_event_id TEXT NOT NULL UNIQUE,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		max:    normalizeMax(maxEvents),
		logger: o.logger.With("path", path),
	}

	if err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&s.count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count events: %w", err)
	}

	// The bound may have shrunk since the database was written.
	if s.count > s.max {
		tx, err := db.Begin()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("begin trim: %w", err)
		}
		if err := s.evict(tx, s.count-s.max); err != nil {
			tx.Rollback()
			db.Close()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			db.Close()
			return nil, fmt.Errorf("commit trim: %w", err)
		}
		s.count = s.max
	}

	return s, nil
}

// evict deletes the n oldest rows.
func (s *SQLiteStore) evict(tx *sql.Tx, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := tx.Exec(`
		DELETE FROM events
		WHERE seq IN (SELECT seq FROM events ORDER BY seq LIMIT ?)
	`, n)
	if err != nil {
		return fmt.Errorf("evict events: %w", err)
	}
	return nil
}

// Store implements Store.
func (s *SQLiteStore) Store(evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin store: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO events (client_event_id, data) VALUES (?, ?)
	`, evt.ClientEventID, data)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	count := s.count + 1
	if count > s.max {
		if err := s.evict(tx, count-s.max); err != nil {
			return err
		}
		count = s.max
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store: %w", err)
	}
	s.count = count
	return nil
}

// FetchEvents implements Store. Rows that no longer decode are deleted and
// logged so they cannot wedge the head of the queue.
func (s *SQLiteStore) FetchEvents(limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		return []event.Event{}, nil
	}

	rows, err := s.db.Query(`
		SELECT seq, data FROM events ORDER BY seq LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	events := make([]event.Event, 0, min(limit, s.count))
	var corrupt []int64
	for rows.Next() {
		var seq int64
		var data []byte
		if err := rows.Scan(&seq, &data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var evt event.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("dropping undecodable event row", "seq", seq, "error", err)
			corrupt = append(corrupt, seq)
			continue
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	for _, seq := range corrupt {
		res, err := s.db.Exec(`DELETE FROM events WHERE seq = ?`, seq)
		if err != nil {
			return nil, fmt.Errorf("delete corrupt event: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.count -= int(n)
		}
	}

	return events, nil
}

// RemoveEvents implements Store.
func (s *SQLiteStore) RemoveEvents(events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM events WHERE client_event_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare remove: %w", err)
	}
	defer stmt.Close()

	removed := 0
	for _, evt := range events {
		res, err := stmt.Exec(evt.ClientEventID)
		if err != nil {
			return fmt.Errorf("remove event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("remove event: %w", err)
		}
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove: %w", err)
	}
	s.count -= removed
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(`DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	s.count = 0
	return nil
}

// EventCount implements Store.
func (s *SQLiteStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return s.count
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
