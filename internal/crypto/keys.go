package crypto

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// KeyPair holds a secret scalar and its derived x-only public point, both
// as 64-char lowercase hex.
type KeyPair struct {
	SecretKey string
	PublicKey string
}

// ErrInvalidKey is returned for key material that is not 64 lowercase hex chars.
var ErrInvalidKey = fmt.Errorf("secret key must be 64 lowercase hex characters")

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// GenerateKeyPair returns a fresh random key pair.
func GenerateKeyPair() (KeyPair, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	return KeyPair{SecretKey: sk, PublicKey: pk}, nil
}

// ImportSecretHex validates raw as a secret key and derives its public
// point. Surrounding whitespace and a leading "0x" are tolerated; anything
// else that is not 64 lowercase hex chars fails with ErrInvalidKey.
func ImportSecretHex(raw string) (KeyPair, error) {
	sk := strings.TrimSpace(raw)
	sk = strings.TrimPrefix(sk, "0x")
	if !hex64.MatchString(sk) {
		return KeyPair{}, ErrInvalidKey
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	return KeyPair{SecretKey: sk, PublicKey: pk}, nil
}

// Hex returns the secret scalar in its canonical lowercase hex form.
func (k KeyPair) Hex() string { return strings.ToLower(k.SecretKey) }
