package crypto

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"

	"bloom/internal/domain"
)

// Context binds a cipher to one conversation: our secret scalar, the
// counterparty's public key, and the algorithm the session negotiated.
type Context struct {
	LocalSecretKey  string
	RemotePublicKey string
	Algorithm       domain.Algorithm
}

// Cipher encrypts and decrypts envelope content for one conversation.
// Failures carry a domain.CodecError discriminating encode from decode.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// NewCipher returns the cipher for ctx's algorithm. Unknown algorithms fall
// back to the nip44 construction, matching the session default.
func NewCipher(ctx Context) Cipher {
	if ctx.Algorithm == domain.AlgorithmNIP04 {
		return nip04Cipher{ctx: ctx}
	}
	return nip44Cipher{ctx: ctx}
}

// NormalizePublicKey canonicalizes a counterparty key: trimmed, lowercased,
// "0x" stripped, and a 66-char compressed point with an 02/03 prefix
// collapsed to its 64-char x-only form.
func NormalizePublicKey(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "0x")
	if len(s) == 66 && (strings.HasPrefix(s, "02") || strings.HasPrefix(s, "03")) {
		s = s[2:]
	}
	if !hex64.MatchString(s) {
		return "", fmt.Errorf("invalid remote public key %q", raw)
	}
	return s, nil
}

type nip44Cipher struct {
	ctx Context
}

func (c nip44Cipher) conversationKey() ([32]byte, error) {
	remote, err := NormalizePublicKey(c.ctx.RemotePublicKey)
	if err != nil {
		return [32]byte{}, err
	}
	return nip44.GenerateConversationKey(remote, c.ctx.LocalSecretKey)
}

func (c nip44Cipher) Encrypt(plaintext string) (string, error) {
	key, err := c.conversationKey()
	if err != nil {
		return "", domain.NewCodecError(domain.CodecEncode, err)
	}
	out, err := nip44.Encrypt(plaintext, key)
	if err != nil {
		return "", domain.NewCodecError(domain.CodecEncode, err)
	}
	return out, nil
}

func (c nip44Cipher) Decrypt(ciphertext string) (string, error) {
	key, err := c.conversationKey()
	if err != nil {
		return "", domain.NewCodecError(domain.CodecDecode, err)
	}
	out, err := nip44.Decrypt(ciphertext, key)
	if err != nil {
		return "", domain.NewCodecError(domain.CodecDecode, err)
	}
	return out, nil
}

type nip04Cipher struct {
	ctx Context
}

func (c nip04Cipher) sharedSecret() ([]byte, error) {
	remote, err := NormalizePublicKey(c.ctx.RemotePublicKey)
	if err != nil {
		return nil, err
	}
	return nip04.ComputeSharedSecret(remote, c.ctx.LocalSecretKey)
}

func (c nip04Cipher) Encrypt(plaintext string) (string, error) {
	key, err := c.sharedSecret()
	if err != nil {
		return "", domain.NewCodecError(domain.CodecEncode, err)
	}
	out, err := nip04.Encrypt(plaintext, key)
	if err != nil {
		return "", domain.NewCodecError(domain.CodecEncode, err)
	}
	return out, nil
}

func (c nip04Cipher) Decrypt(ciphertext string) (string, error) {
	key, err := c.sharedSecret()
	if err != nil {
		return "", domain.NewCodecError(domain.CodecDecode, err)
	}
	out, err := nip04.Decrypt(ciphertext, key)
	if err != nil {
		return "", domain.NewCodecError(domain.CodecDecode, err)
	}
	return out, nil
}

type combined struct {
	primary  Cipher
	fallback Cipher
}

// Combine composes two ciphers: primary is tried first and fallback runs
// only when primary fails with a non-codec error. Codec errors propagate
// immediately so a garbled ciphertext is never retried under a different
// algorithm.
func Combine(primary, fallback Cipher) Cipher {
	return combined{primary: primary, fallback: fallback}
}

func (c combined) Encrypt(plaintext string) (string, error) {
	out, err := c.primary.Encrypt(plaintext)
	if err == nil || domain.IsCodecError(err) {
		return out, err
	}
	return c.fallback.Encrypt(plaintext)
}

func (c combined) Decrypt(ciphertext string) (string, error) {
	out, err := c.primary.Decrypt(ciphertext)
	if err == nil || domain.IsCodecError(err) {
		return out, err
	}
	return c.fallback.Decrypt(ciphertext)
}
