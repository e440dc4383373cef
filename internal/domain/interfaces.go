package domain

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// SnapshotStore persists the single session-snapshot document.
//
// Load returns (nil, nil) when no usable snapshot exists; a corrupt document
// is treated the same as a missing one. Load may still fail when the
// backing storage itself fails, or when an encrypted envelope does not
// open. Save is best-effort
// for quota-style failures: implementations may disable themselves for the
// process lifetime rather than fail every mutation.
type SnapshotStore interface {
	Load(ctx context.Context) (*SessionSnapshot, error)
	Save(ctx context.Context, snap *SessionSnapshot) error
}

// Transport publishes signed events to relays and delivers matching events
// from subscriptions. Implementations normalize relay URLs (trim, strip
// trailing slash, de-duplicate).
//
// Publish completes once at least one relay accepted the event and fails
// with the aggregated error when all did. Publishing with no relays fails
// with ErrNoRelays. Subscribe with no relays warns and returns a no-op
// unsubscribe.
type Transport interface {
	Publish(ctx context.Context, event *nostr.Event, relays []string) error
	Subscribe(ctx context.Context, relays []string, filters nostr.Filters, handler func(*nostr.Event)) (func(), error)
}
