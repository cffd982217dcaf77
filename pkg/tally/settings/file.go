package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/natefinch/atomic"
)

// FileStore keeps settings in a JSON object file that is rewritten
// atomically on every change.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	data   map[string]string
	dirty  bool // memory is ahead of the file
	closed bool
	logger *slog.Logger
}

// NewFileStore opens the settings file at path. A missing or corrupt file
// starts an empty store; construction never fails.
func NewFileStore(path string, opts ...Option) *FileStore {
	o := applyOptions(opts)
	s := &FileStore{
		path:   path,
		data:   make(map[string]string),
		logger: o.logger.With("path", path),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Warn("create settings directory", "error", err)
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		s.logger.Warn("read settings, starting empty", "error", err)
	default:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			s.logger.Warn("decode settings, starting empty", "error", err)
			s.data = make(map[string]string)
		}
		if s.data == nil {
			s.data = make(map[string]string)
		}
	}
	return s
}

// persist writes the current contents. Callers hold the write lock.
func (s *FileStore) persist() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		s.dirty = true
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(raw)); err != nil {
		s.dirty = true
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// GetString implements Store.
func (s *FileStore) GetString(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}
	v, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetString implements Store. The value is kept in memory even when the
// file write fails.
func (s *FileStore) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if cur, ok := s.data[key]; ok && cur == value && !s.dirty {
		return nil
	}
	s.data[key] = value
	return s.persist()
}

// GetInt64 implements Store.
func (s *FileStore) GetInt64(key string) (int64, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return 0, err
	}
	return parseInt64(key, raw)
}

// SetInt64 implements Store.
func (s *FileStore) SetInt64(key string, value int64) error {
	return s.SetString(key, strconv.FormatInt(value, 10))
}

// Delete implements Store.
func (s *FileStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	changed := false
	for _, k := range keys {
		if _, ok := s.data[k]; ok {
			delete(s.data, k)
			changed = true
		}
	}
	if !changed && !s.dirty {
		return nil
	}
	return s.persist()
}

// Close implements Store. Changes a failed write left behind are written
// one last time.
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
	return err
}
