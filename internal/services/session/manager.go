package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bloom/internal/domain"
)

// Listener receives the full snapshot after every successful mutation and
// once, synchronously, on subscription.
type Listener func(domain.SessionSnapshot)

// Manager is the single source of truth for sessions and the
// active-session pointer. Components never mutate sessions in place; every
// change goes through Upsert, Update, Remove, or SetActive so listeners
// observe a monotonic sequence of snapshots.
type Manager struct {
	store domain.SnapshotStore
	log   *zap.Logger

	mu        sync.Mutex
	hydrated  bool
	sessions  map[string]*domain.Session
	order     []string
	activeID  string
	listeners map[int]Listener
	nextSub   int
}

// NewManager returns a Manager backed by store.
func NewManager(store domain.SnapshotStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:     store,
		log:       log,
		sessions:  make(map[string]*domain.Session),
		listeners: make(map[int]Listener),
	}
}

// Hydrate loads the persisted snapshot. It is idempotent; only the first
// call touches storage. Legacy records are migrated in place and, when any
// migration applied, persisted once.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hydrated {
		return nil
	}
	m.hydrated = true

	snap, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("hydrate sessions: %w", err)
	}
	if snap == nil {
		return nil
	}

	migrated := false
	for _, sess := range snap.Sessions {
		s := sess.Clone()

		// Early signer-initiated records predate the userPubkey field.
		if strings.HasPrefix(s.ID, string(domain.SignerInitiated)+":") && s.UserPubkey == "" {
			s.UserPubkey = s.RemoteSignerPubkey
			migrated = true
		}
		merged := domain.MergePermissions(s.Permissions)
		if len(merged) != len(s.Permissions) {
			migrated = true
		}
		s.Permissions = merged

		if _, dup := m.sessions[s.ID]; dup {
			continue
		}
		m.sessions[s.ID] = &s
		m.order = append(m.order, s.ID)
	}
	if _, ok := m.sessions[snap.ActiveSessionID]; ok {
		m.activeID = snap.ActiveSessionID
	} else if len(m.order) > 0 {
		m.activeID = m.order[0]
	}

	if migrated {
		if err := m.persistLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GetSessions returns all sessions in insertion order.
func (m *Manager) GetSessions() []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionsLocked()
}

// GetSession returns the session with the given id.
func (m *Manager) GetSession(id string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	return s.Clone(), true
}

// GetSessionByClientPubkey finds the session whose client key matches.
// Incoming events are routed with this lookup.
func (m *Manager) GetSessionByClientPubkey(pubkey string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if s := m.sessions[id]; s.ClientPublicKey == pubkey {
			return s.Clone(), true
		}
	}
	return domain.Session{}, false
}

// GetActiveSession returns the session the active pointer references.
func (m *Manager) GetActiveSession() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == "" {
		return domain.Session{}, false
	}
	s, ok := m.sessions[m.activeID]
	if !ok {
		return domain.Session{}, false
	}
	return s.Clone(), true
}

// Snapshot returns the current sessions plus active pointer.
func (m *Manager) Snapshot() domain.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Upsert inserts or replaces a session. CreatedAt is preserved across
// upserts of an existing id; the first session ever inserted becomes
// active when no active pointer is set.
func (m *Manager) Upsert(ctx context.Context, sess domain.Session) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := sess.Clone()
	s.Permissions = domain.MergePermissions(s.Permissions)
	now := time.Now().UnixMilli()
	if prev, ok := m.sessions[s.ID]; ok {
		s.CreatedAt = prev.CreatedAt
		s.UpdatedAt = nextStamp(prev.UpdatedAt, now)
	} else {
		if s.CreatedAt == 0 {
			s.CreatedAt = now
		}
		s.UpdatedAt = nextStamp(s.UpdatedAt, now)
		m.order = append(m.order, s.ID)
	}
	m.sessions[s.ID] = &s
	if m.activeID == "" {
		m.activeID = s.ID
	}

	err := m.persistAndEmitLocked(ctx)
	return s.Clone(), err
}

// Update applies patch to a copy of the session and commits the result.
func (m *Manager) Update(ctx context.Context, id string, patch func(*domain.Session)) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}
	s := prev.Clone()
	patch(&s)
	s.ID = prev.ID
	s.CreatedAt = prev.CreatedAt
	s.UpdatedAt = nextStamp(prev.UpdatedAt, time.Now().UnixMilli())
	s.Permissions = domain.MergePermissions(s.Permissions)
	m.sessions[id] = &s

	err := m.persistAndEmitLocked(ctx)
	return s.Clone(), err
}

// Remove deletes a session. Removing the active session promotes the first
// remaining session, or clears the pointer when none remain.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}
	delete(m.sessions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.activeID == id {
		if len(m.order) > 0 {
			m.activeID = m.order[0]
		} else {
			m.activeID = ""
		}
	}
	return m.persistAndEmitLocked(ctx)
}

// SetActive points the active pointer at an existing session.
func (m *Manager) SetActive(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}
	if m.activeID == id {
		return nil
	}
	m.activeID = id
	return m.persistAndEmitLocked(ctx)
}

// OnChange registers a listener and delivers the current snapshot to it
// synchronously. The returned function unsubscribes.
func (m *Manager) OnChange(l Listener) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = l
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.invoke(l, snap)
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) sessionsLocked() []domain.Session {
	out := make([]domain.Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id].Clone())
	}
	return out
}

func (m *Manager) snapshotLocked() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		Sessions:        m.sessionsLocked(),
		ActiveSessionID: m.activeID,
	}
}

func (m *Manager) persistLocked(ctx context.Context) error {
	snap := m.snapshotLocked()
	return m.store.Save(ctx, &snap)
}

// persistAndEmitLocked saves then notifies. Listeners always receive the
// post-mutation snapshot, even when the save failed; the error is returned
// to the mutating caller.
func (m *Manager) persistAndEmitLocked(ctx context.Context) error {
	err := m.persistLocked(ctx)
	snap := m.snapshotLocked()
	for _, l := range m.listeners {
		m.invoke(l, snap)
	}
	return err
}

// invoke shields the mutation (and other listeners) from a panicking
// listener.
func (m *Manager) invoke(l Listener, snap domain.SessionSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("session listener panicked", zap.Any("panic", r))
		}
	}()
	l(snap.Clone())
}

// nextStamp keeps UpdatedAt strictly increasing even when successive
// mutations land within the same millisecond.
func nextStamp(prev, now int64) int64 {
	if now <= prev {
		return prev + 1
	}
	return now
}
