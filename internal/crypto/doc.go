// Package crypto provides key utilities and the session envelope codec.
//
// Key pairs are 32-byte secp256k1 scalars in lowercase hex with x-only
// public points, generated and derived through go-nostr. The envelope codec
// exposes two interchangeable algorithms behind one Cipher interface and a
// Combine adapter for primary/fallback composition.
package crypto
