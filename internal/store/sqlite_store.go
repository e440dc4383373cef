package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"bloom/internal/domain"
)

// SQLiteStore keeps the snapshot document in a key/value table. It exists
// for hosts that already carry a state database and prefer one artifact
// over loose JSON files.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// documents table exists.
func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents(
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(ctx context.Context) (*domain.SessionSnapshot, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE key = ?`, SnapshotKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal([]byte(value), &snap); err != nil {
		s.log.Warn("session snapshot corrupt, starting empty", zap.Error(err))
		return nil, nil
	}
	return &snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap *domain.SessionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents(key, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		SnapshotKey, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

var _ domain.SnapshotStore = (*SQLiteStore)(nil)
