package nip46

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bloom/internal/crypto"
	"bloom/internal/domain"
)

// NewRequestID returns a random UUID, or a <millis>-<randomHex> fallback if
// UUID generation fails.
func NewRequestID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// NewRequest builds a validated request payload. An empty id gets a
// generated one.
func NewRequest(id string, method domain.Method, params []string) (domain.RequestPayload, error) {
	if !method.Valid() {
		return domain.RequestPayload{}, fmt.Errorf("unknown method %q", method)
	}
	if id == "" {
		id = NewRequestID()
	}
	if params == nil {
		params = []string{}
	}
	return domain.RequestPayload{ID: id, Method: method, Params: params}, nil
}

// EncodeRequest serializes the request to JSON and encrypts it.
func EncodeRequest(p domain.RequestPayload, c crypto.Cipher) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", domain.NewCodecError(domain.CodecEncode, err)
	}
	return c.Encrypt(string(raw))
}

// EncodeResponse serializes the response to JSON and encrypts it.
func EncodeResponse(p domain.ResponsePayload, c crypto.Cipher) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", domain.NewCodecError(domain.CodecEncode, err)
	}
	return c.Encrypt(string(raw))
}

// wire shapes use pointers so absent, null, and mistyped fields are all
// distinguishable from present-and-empty.
type wireRequest struct {
	ID     *string   `json:"id"`
	Method *string   `json:"method"`
	Params *[]string `json:"params"`
}

type wireResponse struct {
	ID     *string `json:"id"`
	Result *string `json:"result"`
	Error  *string `json:"error"`
}

// DecodeRequest decrypts and validates an incoming request payload.
func DecodeRequest(ciphertext string, c crypto.Cipher) (domain.RequestPayload, error) {
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		return domain.RequestPayload{}, err
	}
	var w wireRequest
	if err := json.Unmarshal([]byte(plain), &w); err != nil {
		return domain.RequestPayload{}, domain.NewCodecError(domain.CodecUnexpectedPayload, err)
	}
	if w.ID == nil || *w.ID == "" {
		return domain.RequestPayload{}, unexpected("request id missing")
	}
	if w.Method == nil || !domain.Method(*w.Method).Valid() {
		return domain.RequestPayload{}, unexpected("request method missing or unknown")
	}
	if w.Params == nil {
		return domain.RequestPayload{}, unexpected("request params missing")
	}
	return domain.RequestPayload{
		ID:     *w.ID,
		Method: domain.Method(*w.Method),
		Params: *w.Params,
	}, nil
}

// DecodeResponse decrypts and validates an incoming response payload.
// A response must carry at least one of result or error; a shape carrying
// neither (such as an inbound request) fails with the unexpected-payload
// discriminant so the caller can retry the request decode path.
func DecodeResponse(ciphertext string, c crypto.Cipher) (domain.ResponsePayload, error) {
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		return domain.ResponsePayload{}, err
	}
	var w wireResponse
	if err := json.Unmarshal([]byte(plain), &w); err != nil {
		return domain.ResponsePayload{}, domain.NewCodecError(domain.CodecUnexpectedPayload, err)
	}
	if w.ID == nil || *w.ID == "" {
		return domain.ResponsePayload{}, unexpected("response id missing")
	}
	if w.Result == nil && w.Error == nil {
		return domain.ResponsePayload{}, unexpected("response carries neither result nor error")
	}
	out := domain.ResponsePayload{ID: *w.ID}
	if w.Result != nil {
		out.Result = *w.Result
	}
	if w.Error != nil {
		out.Error = *w.Error
	}
	return out, nil
}

func unexpected(msg string) error {
	return domain.NewCodecError(domain.CodecUnexpectedPayload, fmt.Errorf("%s", msg))
}
