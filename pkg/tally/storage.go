package tally

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randalmurphal/tally/pkg/tally/settings"
	"github.com/randalmurphal/tally/pkg/tally/store"
)

// File names used under the storage directory.
const (
	eventsFile     = "events.json"
	settingsFile   = "settings.json"
	eventsDB       = "events.db"
	settingsDB     = "settings.db"
	storageDirPerm = 0o755
)

// stores is the result of opening the configured storage. owned lists the
// stores the client opened itself and must close on shutdown.
type stores struct {
	events   store.Store
	settings settings.Store
	owned    []io.Closer
}

func (s *stores) closeOwned() {
	for _, c := range s.owned {
		_ = c.Close()
	}
}

// openStores resolves the event and settings stores. Stores passed as
// options win over the storage kind.
func openStores(o *options, logger *slog.Logger) (*stores, error) {
	s := &stores{events: o.eventStore, settings: o.settingsStore}
	if s.events != nil && s.settings != nil {
		return s, nil
	}

	switch o.storageKind {
	case StorageFile, StorageSQLite:
		if err := os.MkdirAll(o.storagePath, storageDirPerm); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	if s.events == nil {
		switch o.storageKind {
		case StorageFile:
			fs := store.NewFileStore(filepath.Join(o.storagePath, eventsFile), o.maxEvents, store.WithLogger(logger))
			s.events = fs
			s.owned = append(s.owned, fs)
		case StorageSQLite:
			db, err := store.NewSQLiteStore(filepath.Join(o.storagePath, eventsDB), o.maxEvents, store.WithLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("open event store: %w", err)
			}
			s.events = db
			s.owned = append(s.owned, db)
		default:
			s.events = store.NewMemoryStore(o.maxEvents)
		}
	}

	if s.settings == nil {
		switch o.storageKind {
		case StorageFile:
			fs := settings.NewFileStore(filepath.Join(o.storagePath, settingsFile), settings.WithLogger(logger))
			s.settings = fs
			s.owned = append(s.owned, fs)
		case StorageSQLite:
			db, err := settings.NewSQLiteStore(filepath.Join(o.storagePath, settingsDB))
			if err != nil {
				s.closeOwned()
				return nil, fmt.Errorf("open settings store: %w", err)
			}
			s.settings = db
			s.owned = append(s.owned, db)
		default:
			s.settings = settings.NewMemoryStore()
		}
	}
	return s, nil
}
