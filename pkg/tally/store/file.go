package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/randalmurphal/tally/pkg/tally/event"
)

// snapshotVersion is written into every snapshot file.
const snapshotVersion = 1

type snapshot struct {
	Version int           `json:"version"`
	Events  []event.Event `json:"events"`
}

// FileStore keeps events in memory and mirrors every mutation to a JSON
// snapshot file. The file is replaced atomically (temp file then rename), so
// a crash mid-write leaves the previous snapshot intact.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	q      *queue
	dirty  bool
	closed bool
	logger *slog.Logger
}

// NewFileStore opens the snapshot at path, creating parent directories as
// needed. A missing, unreadable or corrupt snapshot starts an empty store;
// construction never fails. Snapshots holding more than maxEvents events are
// trimmed to the newest ones.
func NewFileStore(path string, maxEvents int, opts ...Option) *FileStore {
	o := applyOptions(opts)
	s := &FileStore{
		path:   path,
		q:      newQueue(normalizeMax(maxEvents)),
		logger: o.logger.With("path", path),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Warn("create snapshot directory", "error", err)
	}
	s.load()
	return s
}

func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		s.logger.Warn("read event snapshot, starting empty", "error", err)
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("decode event snapshot, starting empty", "error", err)
		return
	}
	for _, evt := range snap.Events {
		s.q.push(evt)
	}
	if len(snap.Events) > s.q.len() {
		// Trimmed or deduplicated on load; bring the file in line.
		s.dirty = true
	}
}

// persist writes the current contents. Callers hold the write lock.
func (s *FileStore) persist() error {
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Events: s.q.all()})
	if err != nil {
		s.dirty = true
		return &PersistError{Path: s.path, Err: err}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		s.dirty = true
		return &PersistError{Path: s.path, Err: err}
	}
	s.dirty = false
	return nil
}

// Store implements Store.
func (s *FileStore) Store(evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if !s.q.push(evt) && !s.dirty {
		return nil
	}
	return s.persist()
}

// FetchEvents implements Store.
func (s *FileStore) FetchEvents(limit int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.q.peek(limit), nil
}

// RemoveEvents implements Store.
func (s *FileStore) RemoveEvents(events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.q.remove(events) == 0 && !s.dirty {
		return nil
	}
	return s.persist()
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.q.reset()
	return s.persist()
}

// EventCount implements Store.
func (s *FileStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return s.q.len()
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Close implements Store. A snapshot left stale by an earlier persist
// failure is written one last time.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	var err error
	if s.dirty {
		err = s.persist()
	}
	s.closed = true
	s.q.reset()
	return err
}
