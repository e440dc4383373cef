// Package session owns the authoritative session set.
//
// The Manager hydrates once from storage, serializes every
// mutate+persist+notify sequence behind one lock, and hands listeners full
// snapshots rather than deltas. Listeners run synchronously inside that
// sequence and must not call back into the Manager.
package session
