package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"bloom/internal/domain"
)

// FileStore keeps the snapshot as one JSON document on disk.
type FileStore struct {
	path     string
	log      *zap.Logger
	mu       sync.Mutex
	disabled bool
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: filepath.Join(dir, SnapshotKey+".json"), log: log}
}

// Load reads the snapshot. Missing or corrupt documents yield (nil, nil).
func (s *FileStore) Load(_ context.Context) (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := readFile(s.path)
	if err != nil {
		s.log.Warn("session snapshot unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	if raw == nil {
		return nil, nil
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.log.Warn("session snapshot corrupt, starting empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	return &snap, nil
}

// Save writes the snapshot. A write failure disables further saves for the
// process lifetime; the store keeps serving the in-memory state.
func (s *FileStore) Save(_ context.Context, snap *domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return nil
	}
	raw, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	if err := writeFile(s.path, raw, 0o600); err != nil {
		s.disabled = true
		s.log.Warn("session snapshot write failed, persistence disabled until restart",
			zap.String("path", s.path), zap.Error(err))
		return nil
	}
	return nil
}

var _ domain.SnapshotStore = (*FileStore)(nil)
