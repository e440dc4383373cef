package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"bloom/internal/domain"
	"bloom/internal/util/memzero"
)

// EncryptedStore keeps the snapshot on disk inside a passphrase-protected
// envelope. The session records include client private keys, so users who
// share a machine can opt into encryption at rest.
type EncryptedStore struct {
	path       string
	passphrase string
	log        *zap.Logger
	mu         sync.Mutex
	disabled   bool
}

// NewEncryptedStore returns an EncryptedStore rooted at dir.
func NewEncryptedStore(dir, passphrase string, log *zap.Logger) *EncryptedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &EncryptedStore{
		path:       filepath.Join(dir, SnapshotKey+".enc"),
		passphrase: passphrase,
		log:        log,
	}
}

// scrypt envelope (parameters fixed here; tune as needed)
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }

type envelope struct {
	Salt []byte `json:"salt"`
	CT   []byte `json:"ct"`
}

func (s *EncryptedStore) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	N, r, p := scryptParamsDefault()
	key, err := scrypt.Key([]byte(s.passphrase), salt, N, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// The salt is fresh per write, so the derived key is unique and a zero
	// nonce is safe; the salt doubles as associated data.
	nonce := make([]byte, aead.NonceSize())
	ct := aead.Seal(nil, nonce, plaintext, salt)
	return json.Marshal(envelope{Salt: salt, CT: ct})
}

func (s *EncryptedStore) open(blob []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	N, r, p := scryptParamsDefault()
	key, err := scrypt.Key([]byte(s.passphrase), env.Salt, N, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Open(nil, nonce, env.CT, env.Salt)
}

// Load decrypts and parses the snapshot. A missing file yields (nil, nil);
// a wrong passphrase is an error so callers do not silently wipe state.
func (s *EncryptedStore) Load(_ context.Context) (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := readFile(s.path)
	if err != nil {
		s.log.Warn("encrypted snapshot unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	if blob == nil {
		return nil, nil
	}
	raw, err := s.open(blob)
	if err != nil {
		return nil, err
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.log.Warn("encrypted snapshot corrupt, starting empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	return &snap, nil
}

// Save encrypts and writes the snapshot, with the same disable-on-failure
// behavior as FileStore.
func (s *EncryptedStore) Save(_ context.Context, snap *domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return nil
	}
	raw, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	blob, err := s.seal(raw)
	if err != nil {
		return err
	}
	if err := writeFile(s.path, blob, 0o600); err != nil {
		s.disabled = true
		s.log.Warn("encrypted snapshot write failed, persistence disabled until restart",
			zap.String("path", s.path), zap.Error(err))
		return nil
	}
	return nil
}

var _ domain.SnapshotStore = (*EncryptedStore)(nil)
