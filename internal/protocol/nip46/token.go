package nip46

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"bloom/internal/domain"
)

// Token is the parsed form of a pairing URI.
//
// Client-initiated tokens carry our client public key; signer-initiated
// ones carry the remote signer's. Raw preserves every query parameter as
// received, percent-decoded, for callers that need parameters the schema
// does not name.
type Token struct {
	Type               domain.SessionType
	ClientPubkey       string
	RemoteSignerPubkey string
	Relays             []string
	Secret             string
	Perms              []string
	Metadata           domain.SessionMetadata
	Raw                url.Values
}

const (
	schemeClient = "nostrconnect"
	schemeSigner = "bunker"
)

// ParseToken parses a nostrconnect:// or bunker:// URI.
func ParseToken(raw string) (Token, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Token{}, fmt.Errorf("invalid pairing URI: %w", err)
	}

	var tok Token
	switch u.Scheme {
	case schemeClient:
		tok.Type = domain.ClientInitiated
	case schemeSigner:
		tok.Type = domain.SignerInitiated
	default:
		return Token{}, fmt.Errorf("unknown pairing URI scheme %q", u.Scheme)
	}

	// The primary key sits in the authority. Decoding is tolerant of
	// already-decoded values: unescape failures keep the raw host.
	key := u.Host
	if dec, err := url.PathUnescape(key); err == nil {
		key = dec
	}
	if key == "" {
		return Token{}, fmt.Errorf("pairing URI %s:// is missing its public key", u.Scheme)
	}

	q := u.Query()
	tok.Raw = q
	tok.Relays = domain.NormalizeRelayURLs(q["relay"])
	tok.Secret = q.Get("secret")
	if perms := q.Get("perms"); perms != "" {
		for _, p := range strings.Split(perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				tok.Perms = append(tok.Perms, p)
			}
		}
	}
	if meta := q.Get("metadata"); meta != "" {
		// Unknown keys are dropped by decoding into the fixed struct.
		if err := json.Unmarshal([]byte(meta), &tok.Metadata); err != nil {
			return Token{}, fmt.Errorf("invalid metadata in pairing URI: %w", err)
		}
	}

	switch tok.Type {
	case domain.ClientInitiated:
		tok.ClientPubkey = key
	case domain.SignerInitiated:
		tok.RemoteSignerPubkey = key
	}
	return tok, nil
}

// BuildConnectURI renders a client-initiated token as a nostrconnect:// URI.
// The primary key is percent-encoded; relays repeat as relay params, then
// secret, perms (comma-joined), and metadata (JSON) follow in that order.
func BuildConnectURI(tok Token) string {
	var b strings.Builder
	b.WriteString(schemeClient)
	b.WriteString("://")
	b.WriteString(url.QueryEscape(tok.ClientPubkey))

	sep := byte('?')
	writeParam := func(key, value string) {
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	for _, r := range domain.NormalizeRelayURLs(tok.Relays) {
		writeParam("relay", r)
	}
	if tok.Secret != "" {
		writeParam("secret", tok.Secret)
	}
	if len(tok.Perms) > 0 {
		writeParam("perms", strings.Join(tok.Perms, ","))
	}
	if tok.Metadata != (domain.SessionMetadata{}) {
		raw, err := json.Marshal(tok.Metadata)
		if err == nil {
			writeParam("metadata", string(raw))
		}
	}
	return b.String()
}
