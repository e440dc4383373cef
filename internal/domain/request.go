package domain

// Method is one of the remote-signing RPC methods.
type Method string

const (
	MethodConnect      Method = "connect"
	MethodSignEvent    Method = "sign_event"
	MethodPing         Method = "ping"
	MethodGetPublicKey Method = "get_public_key"
	MethodNIP04Encrypt Method = "nip04_encrypt"
	MethodNIP04Decrypt Method = "nip04_decrypt"
	MethodNIP44Encrypt Method = "nip44_encrypt"
	MethodNIP44Decrypt Method = "nip44_decrypt"
)

// Valid reports whether m belongs to the closed method set.
func (m Method) Valid() bool {
	switch m {
	case MethodConnect, MethodSignEvent, MethodPing, MethodGetPublicKey,
		MethodNIP04Encrypt, MethodNIP04Decrypt, MethodNIP44Encrypt, MethodNIP44Decrypt:
		return true
	}
	return false
}

// RequestPayload is the plaintext request shape carried inside an event.
type RequestPayload struct {
	ID     string   `json:"id"`
	Method Method   `json:"method"`
	Params []string `json:"params"`
}

// ResponsePayload is the plaintext response shape. The auth-challenge
// variant sets Result to "auth_url" and carries the challenge URL in Error.
type ResponsePayload struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// IsAuthChallenge reports whether the response directs the user to approve
// the operation out-of-band before the real response arrives.
func (r ResponsePayload) IsAuthChallenge() bool {
	return r.Result == "auth_url" && r.Error != ""
}

// RequestState tracks a pending request through its lifecycle.
type RequestState string

const (
	RequestPending   RequestState = "pending"
	RequestSent      RequestState = "sent"
	RequestResolved  RequestState = "resolved"
	RequestError     RequestState = "error"
	RequestExpired   RequestState = "expired"
	RequestChallenge RequestState = "challenge"
)

// PendingRequest is the queue's record of one outstanding request.
// It is deleted on terminal settlement.
type PendingRequest struct {
	ID         string           `json:"id"`
	Method     Method           `json:"method"`
	SessionID  string           `json:"sessionId"`
	CreatedAt  int64            `json:"createdAt"`
	LastSentAt int64            `json:"lastSentAt,omitempty"`
	State      RequestState     `json:"state"`
	Payload    RequestPayload   `json:"payload"`
	Error      string           `json:"error,omitempty"`
	Response   *ResponsePayload `json:"response,omitempty"`
}

// KindRemoteSigning is the event kind carrying the encrypted
// request/response envelope. No other kind is produced or consumed.
const KindRemoteSigning = 24133
