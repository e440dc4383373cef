package domain

import (
	"errors"
	"fmt"
)

// CodecCode discriminates envelope codec failures so the dispatcher can
// distinguish a garbled ciphertext from a transport or protocol failure.
type CodecCode string

const (
	CodecEncode            CodecCode = "NIP46_ENCODE_ERROR"
	CodecDecode            CodecCode = "NIP46_DECODE_ERROR"
	CodecUnexpectedPayload CodecCode = "NIP46_UNEXPECTED_PAYLOAD"
)

// CodecError wraps an encryption, decryption, or payload-shape failure.
type CodecError struct {
	Code CodecCode
	Err  error
}

func (e *CodecError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// NewCodecError wraps err under code. Already-wrapped codec errors pass
// through unchanged so the original discriminant survives composition.
func NewCodecError(code CodecCode, err error) error {
	var ce *CodecError
	if errors.As(err, &ce) {
		return err
	}
	return &CodecError{Code: code, Err: err}
}

// IsCodecError reports whether err carries a codec discriminant.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}

// SignerError is a non-empty error string returned by the remote signer for
// a correlated request.
type SignerError struct {
	Method  Method
	Message string
}

func (e *SignerError) Error() string {
	return fmt.Sprintf("remote signer rejected %s: %s", e.Method, e.Message)
}

var (
	// ErrNoRelays means publish was attempted with an empty relay set.
	ErrNoRelays = errors.New("no relays configured")

	// ErrRequestTimeout means no correlated response arrived in time.
	ErrRequestTimeout = errors.New("request timed out waiting for remote signer")

	// ErrUnknownSession means the referenced session id is not registered.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSignerPubkeyUnknown means a request was enqueued before the remote
	// signer's public key was learned.
	ErrSignerPubkeyUnknown = errors.New("remote signer public key not yet known")

	// ErrQueueClosed means the dispatcher was shut down while the request
	// was in flight.
	ErrQueueClosed = errors.New("request queue closed")

	// ErrSecretValidation means the counterparty echoed a wrong pairing secret.
	ErrSecretValidation = errors.New("pairing secret validation failed")
)
