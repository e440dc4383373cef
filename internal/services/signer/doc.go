// Package signer talks to the remote signer over the relay transport.
//
// The Queue owns request correlation: it encrypts and publishes kind-24133
// requests, tracks each one with a timer, routes incoming events back to
// their waiters, and drives session state transitions (auth challenges,
// pairing-secret validation, signer-initiated connect). The Service is the
// facade the host application consumes: pairing, invitations, request
// dispatch, and lifecycle.
package signer
