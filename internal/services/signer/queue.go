package signer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"bloom/internal/crypto"
	"bloom/internal/domain"
	"bloom/internal/protocol/nip46"
	"bloom/internal/services/session"
)

const (
	// DefaultRequestTimeout bounds how long a request waits for its
	// correlated response. An auth challenge restarts the budget.
	DefaultRequestTimeout = 60 * time.Second

	// subscriptionBackfill widens the since filter so events published just
	// before the subscription attached are still replayed.
	subscriptionBackfill = 30 // seconds

	msgRemoteSecretFailure = "Remote signer failed secret validation"
	msgSignerSecretFailure = "Signer failed secret validation"
)

type settleResult struct {
	resp domain.ResponsePayload
	err  error
}

// inflight pairs a pending request with its timer and waiter channel. The
// record owns exactly one timer; whoever takes the record out of the map
// settles the waiter.
type inflight struct {
	id    string
	timer *time.Timer
	done  chan settleResult
}

// Queue correlates outgoing requests with incoming responses over one
// relay subscription.
type Queue struct {
	sessions  *session.Manager
	transport domain.Transport
	log       *zap.Logger
	timeout   time.Duration

	mu       sync.Mutex
	closed   bool
	pending  map[string]*domain.PendingRequest
	inflight map[string]*inflight

	subMu       sync.Mutex
	unsubscribe func()

	unsubSessions func()
	ctx           context.Context
	cancel        context.CancelFunc
}

// QueueOption tweaks queue construction.
type QueueOption func(*Queue)

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewQueue builds a Queue over the session manager and transport.
func NewQueue(sessions *session.Manager, transport domain.Transport, log *zap.Logger, opts ...QueueOption) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		sessions:  sessions,
		transport: transport,
		log:       log,
		timeout:   DefaultRequestTimeout,
		pending:   make(map[string]*domain.PendingRequest),
		inflight:  make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Init attaches the queue to the session manager: the relay subscription
// is built immediately and rebuilt on every session change.
func (q *Queue) Init(ctx context.Context) error {
	q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	q.unsubSessions = q.sessions.OnChange(func(domain.SessionSnapshot) {
		go q.rebuildSubscription()
	})
	return nil
}

// Close tears the queue down: the subscription and every timer is
// cancelled and every waiter is released with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	records := make([]*inflight, 0, len(q.inflight))
	for _, fl := range q.inflight {
		records = append(records, fl)
	}
	q.inflight = make(map[string]*inflight)
	q.pending = make(map[string]*domain.PendingRequest)
	q.mu.Unlock()

	for _, fl := range records {
		fl.timer.Stop()
		close(fl.done)
	}

	if q.unsubSessions != nil {
		q.unsubSessions()
	}
	q.subMu.Lock()
	if q.unsubscribe != nil {
		q.unsubscribe()
		q.unsubscribe = nil
	}
	q.subMu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
}

// Pending returns a copy of the outstanding request records.
func (q *Queue) Pending() []domain.PendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.PendingRequest, 0, len(q.pending))
	for _, pr := range q.pending {
		out = append(out, *pr)
	}
	return out
}

// Enqueue publishes the request on the session's relays and blocks until
// the correlated response, the timeout, ctx cancellation, or shutdown.
func (q *Queue) Enqueue(ctx context.Context, sess domain.Session, payload domain.RequestPayload) (domain.ResponsePayload, error) {
	if sess.RemoteSignerPubkey == "" {
		return domain.ResponsePayload{}, domain.ErrSignerPubkeyUnknown
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ResponsePayload{}, domain.ErrQueueClosed
	}
	pr := &domain.PendingRequest{
		ID:        payload.ID,
		Method:    payload.Method,
		SessionID: sess.ID,
		CreatedAt: time.Now().UnixMilli(),
		State:     domain.RequestPending,
		Payload:   payload,
	}
	fl := &inflight{id: payload.ID, done: make(chan settleResult, 1)}
	fl.timer = time.AfterFunc(q.timeout, func() { q.expire(payload.ID) })
	q.pending[payload.ID] = pr
	q.inflight[payload.ID] = fl
	q.mu.Unlock()

	if _, err := q.sessions.Update(ctx, sess.ID, func(s *domain.Session) {
		s.PendingRelays = append([]string(nil), s.Relays...)
	}); err != nil {
		q.log.Warn("marking pending relays failed", zap.String("session", sess.ID), zap.Error(err))
	}

	evt, err := q.buildRequestEvent(sess, payload)
	if err != nil {
		q.abort(ctx, sess, payload.ID, err)
		return domain.ResponsePayload{}, err
	}
	if err := q.transport.Publish(ctx, evt, sess.Relays); err != nil {
		q.abort(ctx, sess, payload.ID, err)
		return domain.ResponsePayload{}, err
	}

	q.mu.Lock()
	if pr, ok := q.pending[payload.ID]; ok {
		pr.State = domain.RequestSent
		pr.LastSentAt = time.Now().UnixMilli()
	}
	q.mu.Unlock()
	if _, err := q.sessions.Update(ctx, sess.ID, func(s *domain.Session) {
		s.PendingRelays = nil
	}); err != nil {
		q.log.Warn("clearing pending relays failed", zap.String("session", sess.ID), zap.Error(err))
	}

	select {
	case res, ok := <-fl.done:
		if !ok {
			return domain.ResponsePayload{}, domain.ErrQueueClosed
		}
		return res.resp, res.err
	case <-ctx.Done():
		q.drop(payload.ID)
		return domain.ResponsePayload{}, ctx.Err()
	}
}

func (q *Queue) buildRequestEvent(sess domain.Session, payload domain.RequestPayload) (*nostr.Event, error) {
	cipher := crypto.NewCipher(crypto.Context{
		LocalSecretKey:  sess.ClientPrivateKey,
		RemotePublicKey: sess.RemoteSignerPubkey,
		Algorithm:       sess.Algorithm,
	})
	content, err := nip46.EncodeRequest(payload, cipher)
	if err != nil {
		return nil, err
	}
	evt := &nostr.Event{
		Kind:      domain.KindRemoteSigning,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", sess.RemoteSignerPubkey}},
		Content:   content,
	}
	if err := evt.Sign(sess.ClientPrivateKey); err != nil {
		return nil, err
	}
	return evt, nil
}

// abort settles a request that never made it onto the wire: the in-flight
// record and timer go away, the session records the failure, and an
// unreachable relay knocks the session back to pairing.
func (q *Queue) abort(ctx context.Context, sess domain.Session, id string, cause error) {
	q.drop(id)
	msg := cause.Error()
	if _, err := q.sessions.Update(ctx, sess.ID, func(s *domain.Session) {
		s.LastError = &msg
		if strings.Contains(msg, "relay-not-connected") {
			s.Status = domain.StatusPairing
		}
	}); err != nil {
		q.log.Warn("recording publish failure failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

// drop removes a request's records without settling the waiter.
func (q *Queue) drop(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if fl, ok := q.inflight[id]; ok {
		fl.timer.Stop()
		delete(q.inflight, id)
	}
	delete(q.pending, id)
}

// expire fires when a request's timer runs out.
func (q *Queue) expire(id string) {
	q.mu.Lock()
	fl, ok := q.inflight[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.inflight, id)
	if pr, ok := q.pending[id]; ok {
		pr.State = domain.RequestExpired
		delete(q.pending, id)
	}
	q.mu.Unlock()

	fl.done <- settleResult{err: domain.ErrRequestTimeout}
}

// rebuildSubscription replaces the single relay subscription to cover the
// current session set. With no sessions the subscription is torn down.
func (q *Queue) rebuildSubscription() {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	minMs := int64(0)
	for _, pr := range q.pending {
		minMs = minNonZero(minMs, pr.CreatedAt)
		minMs = minNonZero(minMs, pr.LastSentAt)
	}
	q.mu.Unlock()

	// Rebuilds run on their own goroutines in no fixed order; reading the
	// snapshot under subMu makes whichever runs last use the latest set.
	snap := q.sessions.Snapshot()

	if len(snap.Sessions) == 0 {
		if q.unsubscribe != nil {
			q.unsubscribe()
			q.unsubscribe = nil
		}
		return
	}

	pubkeys := make([]string, 0, len(snap.Sessions))
	var relays []string
	for _, s := range snap.Sessions {
		pubkeys = append(pubkeys, s.ClientPublicKey)
		relays = append(relays, s.Relays...)
		relevant := s.LastSeenAt
		if relevant == 0 {
			relevant = s.UpdatedAt
		}
		if relevant == 0 {
			relevant = s.CreatedAt
		}
		minMs = minNonZero(minMs, relevant)
	}

	since := nostr.Timestamp(0)
	if sec := minMs/1000 - subscriptionBackfill; sec > 0 {
		since = nostr.Timestamp(sec)
	}
	filters := nostr.Filters{{
		Kinds: []int{domain.KindRemoteSigning},
		Tags:  nostr.TagMap{"p": pubkeys},
		Since: &since,
	}}

	if q.unsubscribe != nil {
		q.unsubscribe()
		q.unsubscribe = nil
	}
	unsub, err := q.transport.Subscribe(q.ctx, domain.NormalizeRelayURLs(relays), filters, q.handleEvent)
	if err != nil {
		q.log.Warn("relay subscription failed", zap.Error(err))
		return
	}
	q.unsubscribe = unsub
}

func minNonZero(current, candidate int64) int64 {
	if candidate == 0 {
		return current
	}
	if current == 0 || candidate < current {
		return candidate
	}
	return current
}

// handleEvent routes one incoming kind-24133 event. Events for unknown
// client pubkeys are dropped; payloads are decoded as responses first and,
// on a codec failure, retried as requests so a signer-initiated connect is
// recognized.
func (q *Queue) handleEvent(evt *nostr.Event) {
	if evt == nil || evt.Kind != domain.KindRemoteSigning {
		return
	}
	var clientPub string
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			clientPub = tag[1]
			break
		}
	}
	if clientPub == "" {
		return
	}
	sess, ok := q.sessions.GetSessionByClientPubkey(clientPub)
	if !ok {
		return
	}

	cipher := crypto.NewCipher(crypto.Context{
		LocalSecretKey:  sess.ClientPrivateKey,
		RemotePublicKey: evt.PubKey,
		Algorithm:       sess.Algorithm,
	})

	resp, err := nip46.DecodeResponse(evt.Content, cipher)
	if err == nil {
		q.handleResponse(sess, evt.PubKey, resp)
		return
	}
	if !domain.IsCodecError(err) {
		q.log.Warn("undecodable signer event", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	req, reqErr := nip46.DecodeRequest(evt.Content, cipher)
	if reqErr != nil {
		q.log.Warn("signer event is neither response nor request",
			zap.String("session", sess.ID), zap.Error(err), zap.NamedError("request_error", reqErr))
		return
	}
	q.handleIncomingRequest(sess, evt.PubKey, req)
}

// handleResponse applies a correlated (or unsolicited) response to the
// session and settles the waiter if one is still in flight.
func (q *Queue) handleResponse(sess domain.Session, remotePub string, resp domain.ResponsePayload) {
	ctx := q.requestCtx()
	now := time.Now().UnixMilli()

	q.mu.Lock()
	pr := q.pending[resp.ID]
	hasPending := pr != nil
	var pendingMethod domain.Method
	if hasPending {
		pendingMethod = pr.Method
	}
	q.mu.Unlock()

	// Auth challenge: record the URL, restart the clock, keep the caller
	// waiting for the real response.
	if resp.IsAuthChallenge() {
		challenge := resp.Error
		if _, err := q.sessions.Update(ctx, sess.ID, func(s *domain.Session) {
			s.Status = domain.StatusPairing
			s.AuthChallengeURL = &challenge
			s.LastError = nil
			s.PendingRelays = nil
			s.LastSeenAt = now
		}); err != nil {
			q.log.Warn("recording auth challenge failed", zap.String("session", sess.ID), zap.Error(err))
		}
		q.mu.Lock()
		if fl, ok := q.inflight[resp.ID]; ok {
			fl.timer.Reset(q.timeout)
			if pr := q.pending[resp.ID]; pr != nil {
				pr.State = domain.RequestChallenge
			}
		}
		q.mu.Unlock()
		return
	}

	effErr := resp.Error
	secretFailed := false
	clearSecret := false
	if sess.PairingSecret != "" {
		if hasPending && pendingMethod == domain.MethodConnect {
			switch {
			case resp.Result == sess.PairingSecret || resp.Result == "ack":
				// Signers either echo the secret or acknowledge plainly.
				clearSecret = true
			case resp.Result != "":
				// A non-empty result that matches neither: the signer saw a
				// different secret than ours.
				secretFailed = true
			}
		} else if resp.Result != "" {
			// Any other successful traffic consumes the secret.
			clearSecret = true
		}
	}

	// An "already connected" complaint for a connect attempt is success in
	// disguise; strip the error before it reaches session state or caller.
	if effErr != "" && containsAlreadyConnected(effErr) &&
		(pendingMethod == domain.MethodConnect || (!hasPending && sess.Status == domain.StatusActive)) {
		effErr = ""
	}

	status := domain.StatusActive
	var lastErr *string
	switch {
	case secretFailed:
		status = domain.StatusRevoked
		msg := msgRemoteSecretFailure
		lastErr = &msg
	case effErr != "":
		status = domain.StatusPairing
		lastErr = &effErr
	}

	if _, err := q.sessions.Update(ctx, sess.ID, func(s *domain.Session) {
		s.Status = status
		s.LastSeenAt = now
		s.AuthChallengeURL = nil
		s.PendingRelays = nil
		s.LastError = lastErr
		if clearSecret || (status == domain.StatusActive && pendingMethod == domain.MethodConnect) {
			s.PairingSecret = ""
		}
		if s.RemoteSignerPubkey == "" {
			s.RemoteSignerPubkey = remotePub
		}
	}); err != nil {
		q.log.Warn("applying response to session failed", zap.String("session", sess.ID), zap.Error(err))
	}

	// Settle the caller, if one is still waiting. Unsolicited responses
	// only feed session state.
	q.mu.Lock()
	fl, live := q.inflight[resp.ID]
	if live {
		fl.timer.Stop()
		delete(q.inflight, resp.ID)
	}
	observable := resp
	observable.Error = effErr
	var settleErr error
	switch {
	case secretFailed:
		settleErr = domain.ErrSecretValidation
	case effErr != "":
		settleErr = &domain.SignerError{Method: pendingMethod, Message: effErr}
	}
	if pr := q.pending[resp.ID]; pr != nil {
		if settleErr != nil {
			pr.State = domain.RequestError
			pr.Error = effErr
		} else {
			pr.State = domain.RequestResolved
			pr.Response = &observable
		}
		delete(q.pending, resp.ID)
	}
	q.mu.Unlock()

	if live {
		fl.done <- settleResult{resp: observable, err: settleErr}
	}
}

// handleIncomingRequest serves the one inbound method a client accepts:
// the signer-initiated connect handshake. Everything else is answered with
// unsupported_method.
func (q *Queue) handleIncomingRequest(sess domain.Session, remotePub string, req domain.RequestPayload) {
	ctx := q.requestCtx()
	now := time.Now().UnixMilli()

	if req.Method != domain.MethodConnect {
		q.reply(ctx, sess, remotePub, domain.ResponsePayload{ID: req.ID, Error: "unsupported_method"})
		return
	}

	if sess.PairingSecret != "" && len(req.Params) >= 2 && req.Params[1] != "" && req.Params[1] != sess.PairingSecret {
		if _, err := q.sessions.Update(ctx, sess.ID, func(s *domain.Session) {
			s.Status = domain.StatusRevoked
			msg := msgSignerSecretFailure
			s.LastError = &msg
			s.LastSeenAt = now
		}); err != nil {
			q.log.Warn("revoking session failed", zap.String("session", sess.ID), zap.Error(err))
		}
		q.reply(ctx, sess, remotePub, domain.ResponsePayload{ID: req.ID, Error: "invalid_secret"})
		return
	}

	secret := sess.PairingSecret
	updated, err := q.sessions.Update(ctx, sess.ID, func(s *domain.Session) {
		s.Status = domain.StatusActive
		s.PairingSecret = ""
		s.LastError = nil
		s.AuthChallengeURL = nil
		s.PendingRelays = nil
		s.LastSeenAt = now
		if s.RemoteSignerPubkey == "" {
			s.RemoteSignerPubkey = remotePub
		}
	})
	if err != nil {
		q.log.Warn("activating session failed", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	if err := q.sessions.SetActive(ctx, sess.ID); err != nil {
		q.log.Warn("setting active session failed", zap.String("session", sess.ID), zap.Error(err))
	}

	result := secret
	if result == "" {
		result = "ack"
	}
	q.reply(ctx, updated, remotePub, domain.ResponsePayload{ID: req.ID, Result: result})

	if updated.UserPubkey == "" && updated.HasPermission(string(domain.MethodGetPublicKey)) && updated.RemoteSignerPubkey != "" {
		go func() {
			if _, err := q.FetchUserPublicKey(q.requestCtx(), updated.ID); err != nil {
				q.log.Warn("fetching user public key failed", zap.String("session", updated.ID), zap.Error(err))
			}
		}()
	}
}

// FetchUserPublicKey asks the signer for the user's public key and stores
// it on the session.
func (q *Queue) FetchUserPublicKey(ctx context.Context, sessionID string) (string, error) {
	sess, ok := q.sessions.GetSession(sessionID)
	if !ok {
		return "", domain.ErrUnknownSession
	}
	payload, err := nip46.NewRequest("", domain.MethodGetPublicKey, nil)
	if err != nil {
		return "", err
	}
	resp, err := q.Enqueue(ctx, sess, payload)
	if err != nil {
		return "", err
	}
	kp, err := crypto.NormalizePublicKey(resp.Result)
	if err != nil {
		return "", err
	}
	if _, err := q.sessions.Update(ctx, sessionID, func(s *domain.Session) {
		s.UserPubkey = kp
	}); err != nil {
		return "", err
	}
	return kp, nil
}

// reply encrypts and publishes a response to the counterparty.
func (q *Queue) reply(ctx context.Context, sess domain.Session, remotePub string, resp domain.ResponsePayload) {
	cipher := crypto.NewCipher(crypto.Context{
		LocalSecretKey:  sess.ClientPrivateKey,
		RemotePublicKey: remotePub,
		Algorithm:       sess.Algorithm,
	})
	content, err := nip46.EncodeResponse(resp, cipher)
	if err != nil {
		q.log.Warn("encoding reply failed", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	evt := &nostr.Event{
		Kind:      domain.KindRemoteSigning,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", remotePub}},
		Content:   content,
	}
	if err := evt.Sign(sess.ClientPrivateKey); err != nil {
		q.log.Warn("signing reply failed", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	if err := q.transport.Publish(ctx, evt, sess.Relays); err != nil {
		q.log.Warn("publishing reply failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

func (q *Queue) requestCtx() context.Context {
	if q.ctx != nil {
		return q.ctx
	}
	return context.Background()
}

func containsAlreadyConnected(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "already") && strings.Contains(lower, "connect")
}
