package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"bloom/internal/domain"
	"bloom/internal/relay"
	"bloom/internal/services/session"
	"bloom/internal/services/signer"
	"bloom/internal/store"
)

// Wire bundles the store, services, and transport for the CLI.
type Wire struct {
	Log      *zap.Logger
	Store    domain.SnapshotStore
	Sessions *session.Manager
	Pool     *relay.Pool
	Signer   *signer.Service

	closers []func() error
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	log, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	w := &Wire{Log: log}

	switch cfg.Storage {
	case StorageMemory:
		w.Store = store.NewMemoryStore()
	case StorageEncrypted:
		if cfg.Passphrase == "" {
			return nil, errors.New("encrypted storage needs a passphrase")
		}
		w.Store = store.NewEncryptedStore(cfg.Home, cfg.Passphrase, log)
	case StorageSQLite:
		db, err := store.NewSQLiteStore(filepath.Join(cfg.Home, "state.sqlite"), log)
		if err != nil {
			return nil, err
		}
		w.Store = db
		w.closers = append(w.closers, db.Close)
	case StorageFile, "":
		w.Store = store.NewFileStore(cfg.Home, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	w.Sessions = session.NewManager(w.Store, log)
	w.Pool = relay.NewPool(log)
	w.Signer = signer.NewService(w.Sessions, w.Pool, log,
		signer.WithServiceRequestTimeout(cfg.RequestTimeout))
	return w, nil
}

// Close shuts the service, transport, and store down.
func (w *Wire) Close() {
	w.Signer.Destroy()
	w.Pool.Close()
	for _, c := range w.closers {
		if err := c(); err != nil {
			w.Log.Warn("closing store failed", zap.Error(err))
		}
	}
	_ = w.Log.Sync()
}
