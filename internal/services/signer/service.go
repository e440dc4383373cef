package signer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bloom/internal/crypto"
	"bloom/internal/domain"
	"bloom/internal/protocol/nip46"
	"bloom/internal/services/session"
)

// Service is the facade the host application consumes. It owns one lazily
// initialized Queue for its lifetime.
type Service struct {
	sessions  *session.Manager
	transport domain.Transport
	log       *zap.Logger
	timeout   time.Duration

	mu    sync.Mutex
	queue *Queue
}

// ServiceOption tweaks service construction.
type ServiceOption func(*Service)

// WithServiceRequestTimeout overrides the per-request timeout of the queue
// the service builds.
func WithServiceRequestTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService builds the facade over the session manager and transport.
func NewService(sessions *session.Manager, transport domain.Transport, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		sessions:  sessions,
		transport: transport,
		log:       log,
		timeout:   DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionManager exposes the session store for UI consumers.
func (s *Service) SessionManager() *session.Manager { return s.sessions }

// Init hydrates persisted sessions and attaches the queue so existing
// pairings resume receiving events immediately.
func (s *Service) Init(ctx context.Context) error {
	if err := s.sessions.Hydrate(ctx); err != nil {
		return err
	}
	_, err := s.ensureQueue(ctx)
	return err
}

// Destroy shuts the queue down and resets initialization; a later call can
// initialize again.
func (s *Service) Destroy() {
	s.mu.Lock()
	q := s.queue
	s.queue = nil
	s.mu.Unlock()
	if q != nil {
		q.Close()
	}
}

func (s *Service) ensureQueue(ctx context.Context) (*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return s.queue, nil
	}
	q := NewQueue(s.sessions, s.transport, s.log, WithRequestTimeout(s.timeout))
	if err := q.Init(ctx); err != nil {
		return nil, err
	}
	s.queue = q
	return q, nil
}

// PairWithURI pairs from a bunker:// URI handed to us by a signer. The
// session is stored immediately; the connect handshake (and, when
// permitted, the user pubkey lookup) runs before returning.
func (s *Service) PairWithURI(ctx context.Context, uri string) (domain.Session, error) {
	tok, err := nip46.ParseToken(uri)
	if err != nil {
		return domain.Session{}, err
	}
	if tok.Type != domain.SignerInitiated {
		return domain.Session{}, fmt.Errorf("%s URIs are invitations this client issues; pairing needs a bunker:// URI", tok.Type)
	}
	if err := s.sessions.Hydrate(ctx); err != nil {
		return domain.Session{}, err
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.Session{}, err
	}
	now := time.Now().UnixMilli()
	sess := domain.Session{
		ID:                 domain.NewSessionID(domain.SignerInitiated, tok.RemoteSignerPubkey, now),
		Type:               domain.SignerInitiated,
		RemoteSignerPubkey: tok.RemoteSignerPubkey,
		UserPubkey:         tok.RemoteSignerPubkey,
		ClientPublicKey:    kp.PublicKey,
		ClientPrivateKey:   kp.SecretKey,
		Relays:             tok.Relays,
		Permissions:        domain.MergePermissions(tok.Perms),
		Status:             domain.StatusPairing,
		Algorithm:          domain.AlgorithmNIP44,
		PairingSecret:      tok.Secret,
		Metadata:           tok.Metadata,
		CreatedAt:          now,
	}
	stored, err := s.sessions.Upsert(ctx, sess)
	if err != nil {
		return stored, err
	}
	q, err := s.ensureQueue(ctx)
	if err != nil {
		return stored, err
	}

	params := []string{tok.RemoteSignerPubkey}
	if tok.Secret != "" || len(tok.Perms) > 0 {
		params = append(params, tok.Secret)
	}
	if len(tok.Perms) > 0 {
		params = append(params, strings.Join(tok.Perms, ","))
	}
	payload, err := nip46.NewRequest("", domain.MethodConnect, params)
	if err != nil {
		return stored, err
	}
	if _, err := q.Enqueue(ctx, stored, payload); err != nil {
		latest, _ := s.sessions.GetSession(stored.ID)
		return latest, err
	}

	latest, _ := s.sessions.GetSession(stored.ID)
	// Until get_public_key answers, the signer's key stands in for the
	// user's; refresh it when the permission allows.
	if (latest.UserPubkey == "" || latest.UserPubkey == latest.RemoteSignerPubkey) &&
		latest.HasPermission(string(domain.MethodGetPublicKey)) {
		if _, err := q.FetchUserPublicKey(ctx, latest.ID); err != nil {
			s.log.Warn("fetching user public key failed", zap.String("session", latest.ID), zap.Error(err))
		}
		latest, _ = s.sessions.GetSession(stored.ID)
	}
	return latest, nil
}

// InvitationOptions parameterize CreateInvitation.
type InvitationOptions struct {
	Relays   []string
	Secret   string   // generated when empty
	Perms    []string // extras on top of the default set
	Metadata domain.SessionMetadata
}

// Invitation is a freshly stored pairing session plus the URI to hand to
// the signer. The client then waits for the signer to initiate connect.
type Invitation struct {
	Session domain.Session
	URI     string
}

// CreateInvitation builds a client-initiated pairing: fresh keypair,
// random secret, stored session, and the nostrconnect:// token.
func (s *Service) CreateInvitation(ctx context.Context, opts InvitationOptions) (Invitation, error) {
	if err := s.sessions.Hydrate(ctx); err != nil {
		return Invitation{}, err
	}
	relays := domain.NormalizeRelayURLs(opts.Relays)
	if len(relays) == 0 {
		return Invitation{}, domain.ErrNoRelays
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return Invitation{}, err
	}
	secret := opts.Secret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return Invitation{}, err
		}
	}
	perms := domain.MergePermissions(opts.Perms)

	uri := nip46.BuildConnectURI(nip46.Token{
		Type:         domain.ClientInitiated,
		ClientPubkey: kp.PublicKey,
		Relays:       relays,
		Secret:       secret,
		Perms:        perms,
		Metadata:     opts.Metadata,
	})

	now := time.Now().UnixMilli()
	sess := domain.Session{
		ID:               domain.NewSessionID(domain.ClientInitiated, kp.PublicKey, now),
		Type:             domain.ClientInitiated,
		ClientPublicKey:  kp.PublicKey,
		ClientPrivateKey: kp.SecretKey,
		Relays:           relays,
		Permissions:      perms,
		Status:           domain.StatusPairing,
		Algorithm:        domain.AlgorithmNIP44,
		PairingSecret:    secret,
		Metadata:         opts.Metadata,
		CreatedAt:        now,
	}
	stored, err := s.sessions.Upsert(ctx, sess)
	if err != nil {
		return Invitation{}, err
	}
	if _, err := s.ensureQueue(ctx); err != nil {
		return Invitation{}, err
	}
	return Invitation{Session: stored, URI: uri}, nil
}

// SendRequest dispatches one request on an existing session and waits for
// the correlated response. An unknown session fails synchronously.
func (s *Service) SendRequest(ctx context.Context, sessionID string, method domain.Method, params []string, id string) (domain.ResponsePayload, error) {
	sess, ok := s.sessions.GetSession(sessionID)
	if !ok {
		return domain.ResponsePayload{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
	}
	payload, err := nip46.NewRequest(id, method, params)
	if err != nil {
		return domain.ResponsePayload{}, err
	}
	q, err := s.ensureQueue(ctx)
	if err != nil {
		return domain.ResponsePayload{}, err
	}
	return q.Enqueue(ctx, sess, payload)
}

// ConnectSession re-issues the connect handshake for an existing session
// whose signer key is known.
func (s *Service) ConnectSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, ok := s.sessions.GetSession(sessionID)
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
	}
	if sess.RemoteSignerPubkey == "" {
		return sess, domain.ErrSignerPubkeyUnknown
	}
	params := []string{sess.RemoteSignerPubkey}
	if sess.PairingSecret != "" {
		params = append(params, sess.PairingSecret)
	}
	if _, err := s.SendRequest(ctx, sessionID, domain.MethodConnect, params, ""); err != nil {
		latest, _ := s.sessions.GetSession(sessionID)
		return latest, err
	}
	latest, _ := s.sessions.GetSession(sessionID)
	return latest, nil
}

// FetchUserPublicKey asks the signer for the user's public key and stores
// it on the session.
func (s *Service) FetchUserPublicKey(ctx context.Context, sessionID string) (string, error) {
	q, err := s.ensureQueue(ctx)
	if err != nil {
		return "", err
	}
	return q.FetchUserPublicKey(ctx, sessionID)
}

// randomSecret returns 16 random bytes as 32 hex chars.
func randomSecret() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
