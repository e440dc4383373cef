package domain

import "fmt"

// SessionType distinguishes which side initiated the pairing.
type SessionType string

const (
	// ClientInitiated sessions start from an invitation URI we generate;
	// the signer contacts us with a connect request.
	ClientInitiated SessionType = "client-initiated"
	// SignerInitiated sessions start from a bunker:// URI the signer hands us.
	SignerInitiated SessionType = "signer-initiated"
)

// SessionStatus is the lifecycle state of a pairing.
type SessionStatus string

const (
	StatusPairing SessionStatus = "pairing"
	StatusActive  SessionStatus = "active"
	StatusRevoked SessionStatus = "revoked"
)

// Algorithm selects the encryption scheme for a session's envelope.
type Algorithm string

const (
	// AlgorithmNIP44 is the versioned ChaCha20 construction with an
	// ECDH-derived conversation key. Default for new sessions.
	AlgorithmNIP44 Algorithm = "nip44"
	// AlgorithmNIP04 is the legacy ECDH + AES-CBC construction.
	AlgorithmNIP04 Algorithm = "nip04"
)

// SessionMetadata describes the counterparty application, as carried in a
// pairing URI's metadata parameter. Unknown keys are dropped on parse.
type SessionMetadata struct {
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
}

// Session is the persistent record of one pairing with a remote signer.
//
// ClientPublicKey is always the derived public point of ClientPrivateKey.
// RemoteSignerPubkey may be empty until the signer first answers.
type Session struct {
	ID                 string          `json:"id"`
	Type               SessionType     `json:"type"`
	RemoteSignerPubkey string          `json:"remoteSignerPubkey"`
	UserPubkey         string          `json:"userPubkey"`
	ClientPublicKey    string          `json:"clientPublicKey"`
	ClientPrivateKey   string          `json:"clientPrivateKey"`
	Relays             []string        `json:"relays"`
	Permissions        []string        `json:"permissions"`
	Status             SessionStatus   `json:"status"`
	Algorithm          Algorithm       `json:"algorithm"`
	PairingSecret      string          `json:"pairingSecret,omitempty"`
	Metadata           SessionMetadata `json:"metadata"`
	LastSeenAt         int64           `json:"lastSeenAt,omitempty"`
	LastError          *string         `json:"lastError"`
	PendingRelays      []string        `json:"pendingRelays,omitempty"`
	AuthChallengeURL   *string         `json:"authChallengeUrl"`
	CreatedAt          int64           `json:"createdAt"`
	UpdatedAt          int64           `json:"updatedAt"`
}

// NewSessionID builds the stable session identifier.
func NewSessionID(typ SessionType, baseID string, createdMillis int64) string {
	return fmt.Sprintf("%s:%s:%d", typ, baseID, createdMillis)
}

// Clone returns a deep copy so callers can hand sessions out without
// sharing slices or pointers with the manager's authoritative state.
func (s Session) Clone() Session {
	out := s
	out.Relays = append([]string(nil), s.Relays...)
	out.Permissions = append([]string(nil), s.Permissions...)
	out.PendingRelays = append([]string(nil), s.PendingRelays...)
	if s.LastError != nil {
		v := *s.LastError
		out.LastError = &v
	}
	if s.AuthChallengeURL != nil {
		v := *s.AuthChallengeURL
		out.AuthChallengeURL = &v
	}
	return out
}

// HasPermission reports whether perm was granted to this session.
func (s Session) HasPermission(perm string) bool {
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// SessionSnapshot is the single persisted document: every session plus the
// active-session pointer. ActiveSessionID is empty or references a session
// present in Sessions.
type SessionSnapshot struct {
	Sessions        []Session `json:"sessions"`
	ActiveSessionID string    `json:"activeSessionId"`
}

// Clone deep-copies the snapshot.
func (s SessionSnapshot) Clone() SessionSnapshot {
	out := SessionSnapshot{ActiveSessionID: s.ActiveSessionID}
	out.Sessions = make([]Session, len(s.Sessions))
	for i, sess := range s.Sessions {
		out.Sessions[i] = sess.Clone()
	}
	return out
}

// DefaultPermissions returns the permission set granted to every session.
func DefaultPermissions() []string {
	return []string{
		"sign_event",
		"nip44_encrypt",
		"nip44_decrypt",
		"nip04_encrypt",
		"nip04_decrypt",
		"get_public_key",
	}
}

// MergePermissions unions the default set with extras, keeping first-seen
// order and dropping duplicates and empty entries.
func MergePermissions(extras []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(extras)+6)
	for _, p := range DefaultPermissions() {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range extras {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
