package signer_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"bloom/internal/crypto"
	"bloom/internal/domain"
	"bloom/internal/protocol/nip46"
	"bloom/internal/services/session"
	"bloom/internal/services/signer"
	"bloom/internal/store"
)

// fakeTransport records published events and lets tests play the signer by
// injecting events into the active subscription.
type fakeTransport struct {
	mu         sync.Mutex
	published  []*nostr.Event
	handler    func(*nostr.Event)
	subscribes int
	unsubs     int
	publishErr error
}

func (f *fakeTransport) Publish(_ context.Context, evt *nostr.Event, relays []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(domain.NormalizeRelayURLs(relays)) == 0 {
		return domain.ErrNoRelays
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, evt)
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, relays []string, _ nostr.Filters, handler func(*nostr.Event)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if len(relays) == 0 {
		return func() {}, nil
	}
	f.handler = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
		f.handler = nil
	}, nil
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTransport) publishedAt(i int) *nostr.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.published) {
		return nil
	}
	return f.published[i]
}

// deliver injects an event as if a relay replayed it.
func (f *fakeTransport) deliver(t *testing.T, evt *nostr.Event) {
	t.Helper()
	h := f.waitHandler(t)
	h(evt)
}

func (f *fakeTransport) waitHandler(t *testing.T) func(*nostr.Event) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		h := f.handler
		f.mu.Unlock()
		if h != nil {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no subscription handler attached")
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type signerPeer struct {
	keys crypto.KeyPair
}

func newSignerPeer(t *testing.T) *signerPeer {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return &signerPeer{keys: kp}
}

func (p *signerPeer) cipherFor(clientPub string) crypto.Cipher {
	return crypto.NewCipher(crypto.Context{
		LocalSecretKey:  p.keys.SecretKey,
		RemotePublicKey: clientPub,
		Algorithm:       domain.AlgorithmNIP44,
	})
}

func (p *signerPeer) responseEvent(t *testing.T, clientPub string, resp domain.ResponsePayload) *nostr.Event {
	t.Helper()
	ct, err := nip46.EncodeResponse(resp, p.cipherFor(clientPub))
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	return &nostr.Event{
		Kind:    domain.KindRemoteSigning,
		PubKey:  p.keys.PublicKey,
		Tags:    nostr.Tags{{"p", clientPub}},
		Content: ct,
	}
}

func (p *signerPeer) requestEvent(t *testing.T, clientPub string, req domain.RequestPayload) *nostr.Event {
	t.Helper()
	ct, err := nip46.EncodeRequest(req, p.cipherFor(clientPub))
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return &nostr.Event{
		Kind:    domain.KindRemoteSigning,
		PubKey:  p.keys.PublicKey,
		Tags:    nostr.Tags{{"p", clientPub}},
		Content: ct,
	}
}

// decodeClientRequest opens a request the client published.
func decodeClientRequest(t *testing.T, p *signerPeer, sess domain.Session, evt *nostr.Event) domain.RequestPayload {
	t.Helper()
	req, err := nip46.DecodeRequest(evt.Content, p.cipherFor(sess.ClientPublicKey))
	if err != nil {
		t.Fatalf("decode client request: %v", err)
	}
	return req
}

func testQueue(t *testing.T, opts ...signer.QueueOption) (*session.Manager, *fakeTransport, *signer.Queue) {
	t.Helper()
	mgr := session.NewManager(store.NewMemoryStore(), nil)
	if err := mgr.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	ft := &fakeTransport{}
	q := signer.NewQueue(mgr, ft, nil, opts...)
	if err := q.Init(context.Background()); err != nil {
		t.Fatalf("queue init: %v", err)
	}
	t.Cleanup(q.Close)
	return mgr, ft, q
}

func pairedSession(t *testing.T, mgr *session.Manager, peer *signerPeer, status domain.SessionStatus, secret string) domain.Session {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	now := time.Now().UnixMilli()
	sess := domain.Session{
		ID:                 domain.NewSessionID(domain.SignerInitiated, peer.keys.PublicKey, now),
		Type:               domain.SignerInitiated,
		RemoteSignerPubkey: peer.keys.PublicKey,
		ClientPublicKey:    kp.PublicKey,
		ClientPrivateKey:   kp.SecretKey,
		Relays:             []string{"wss://r.example"},
		Status:             status,
		Algorithm:          domain.AlgorithmNIP44,
		PairingSecret:      secret,
		CreatedAt:          now,
	}
	stored, err := mgr.Upsert(context.Background(), sess)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return stored
}

func TestEnqueue_RequiresSignerPubkey(t *testing.T) {
	mgr, _, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusPairing, "")
	sess.RemoteSignerPubkey = ""

	payload, _ := nip46.NewRequest("", domain.MethodPing, nil)
	_, err := q.Enqueue(context.Background(), sess, payload)
	if !errors.Is(err, domain.ErrSignerPubkeyUnknown) {
		t.Fatalf("want ErrSignerPubkeyUnknown, got %v", err)
	}
}

func TestEnqueue_TimesOut(t *testing.T) {
	mgr, _, q := testQueue(t, signer.WithRequestTimeout(100*time.Millisecond))
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")

	payload, _ := nip46.NewRequest("", domain.MethodPing, nil)
	start := time.Now()
	_, err := q.Enqueue(context.Background(), sess, payload)
	if !errors.Is(err, domain.ErrRequestTimeout) {
		t.Fatalf("want ErrRequestTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout fired far too late")
	}
	if n := len(q.Pending()); n != 0 {
		t.Fatalf("pending records leaked: %d", n)
	}
}

func TestEnqueue_RelayNotConnected(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")
	ft.publishErr = errors.New("relay-not-connected: wss://r.example")

	payload, _ := nip46.NewRequest("", domain.MethodPing, nil)
	_, err := q.Enqueue(context.Background(), sess, payload)
	if err == nil || !strings.Contains(err.Error(), "relay-not-connected") {
		t.Fatalf("want relay-not-connected, got %v", err)
	}

	after, _ := mgr.GetSession(sess.ID)
	if after.Status != domain.StatusPairing {
		t.Fatalf("status = %s, want pairing", after.Status)
	}
	if after.LastError == nil || !strings.Contains(*after.LastError, "relay-not-connected") {
		t.Fatalf("lastError = %v", after.LastError)
	}
	if n := len(q.Pending()); n != 0 {
		t.Fatalf("pending records leaked: %d", n)
	}
}

func TestEnqueue_ResolvedByCorrelatedResponse(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")

	payload, _ := nip46.NewRequest("req-1", domain.MethodPing, nil)
	done := make(chan error, 1)
	var got domain.ResponsePayload
	go func() {
		var err error
		got, err = q.Enqueue(context.Background(), sess, payload)
		done <- err
	}()

	waitFor(t, "request published", func() bool { return ft.publishedCount() == 1 })
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: "req-1", Result: "pong"}))

	if err := <-done; err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got.Result != "pong" {
		t.Fatalf("result = %q", got.Result)
	}
	after, _ := mgr.GetSession(sess.ID)
	if after.Status != domain.StatusActive || after.LastSeenAt == 0 {
		t.Fatalf("session not refreshed: %+v", after)
	}
}

func TestAuthChallenge_RestartsTimerThenResolves(t *testing.T) {
	mgr, ft, q := testQueue(t, signer.WithRequestTimeout(400*time.Millisecond))
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")

	payload, _ := nip46.NewRequest("req-2", domain.MethodSignEvent, []string{"{}"})
	done := make(chan error, 1)
	var got domain.ResponsePayload
	go func() {
		var err error
		got, err = q.Enqueue(context.Background(), sess, payload)
		done <- err
	}()

	waitFor(t, "request published", func() bool { return ft.publishedCount() == 1 })

	// Run down most of the first budget before the challenge arrives.
	time.Sleep(250 * time.Millisecond)
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{
		ID: "req-2", Result: "auth_url", Error: "https://signer.example/approve/x",
	}))

	waitFor(t, "challenge recorded", func() bool {
		s, _ := mgr.GetSession(sess.ID)
		return s.AuthChallengeURL != nil
	})
	s, _ := mgr.GetSession(sess.ID)
	if s.Status != domain.StatusPairing || *s.AuthChallengeURL != "https://signer.example/approve/x" {
		t.Fatalf("challenge not applied: %+v", s)
	}
	pending := q.Pending()
	if len(pending) != 1 || pending[0].State != domain.RequestChallenge {
		t.Fatalf("pending = %+v", pending)
	}

	// Past the original deadline: the restarted timer keeps the caller alive.
	time.Sleep(250 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("caller settled during challenge: %v", err)
	default:
	}

	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: "req-2", Result: `{"signed":true}`}))
	if err := <-done; err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got.Result != `{"signed":true}` {
		t.Fatalf("result = %q", got.Result)
	}
	s, _ = mgr.GetSession(sess.ID)
	if s.Status != domain.StatusActive || s.AuthChallengeURL != nil {
		t.Fatalf("challenge not cleared: %+v", s)
	}
}

func TestResponse_ErrorPutsSessionBackToPairing(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")

	payload, _ := nip46.NewRequest("req-3", domain.MethodSignEvent, []string{"{}"})
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), sess, payload)
		done <- err
	}()

	waitFor(t, "request published", func() bool { return ft.publishedCount() == 1 })
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: "req-3", Error: "user rejected"}))

	err := <-done
	var se *domain.SignerError
	if !errors.As(err, &se) || se.Message != "user rejected" {
		t.Fatalf("want SignerError, got %v", err)
	}
	s, _ := mgr.GetSession(sess.ID)
	if s.Status != domain.StatusPairing || s.LastError == nil || *s.LastError != "user rejected" {
		t.Fatalf("session = %+v", s)
	}
}

func TestResponse_AlreadyConnectedToleranceOnConnect(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusPairing, "")

	payload, _ := nip46.NewRequest("req-4", domain.MethodConnect, []string{peer.keys.PublicKey})
	done := make(chan error, 1)
	var got domain.ResponsePayload
	go func() {
		var err error
		got, err = q.Enqueue(context.Background(), sess, payload)
		done <- err
	}()

	waitFor(t, "request published", func() bool { return ft.publishedCount() == 1 })
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{
		ID: "req-4", Error: "client Already Connected to this signer",
	}))

	if err := <-done; err != nil {
		t.Fatalf("already-connected should settle as success: %v", err)
	}
	if got.Error != "" {
		t.Fatalf("error leaked into observable response: %q", got.Error)
	}
	s, _ := mgr.GetSession(sess.ID)
	if s.Status != domain.StatusActive || s.LastError != nil {
		t.Fatalf("session = %+v", s)
	}
}

func TestResponse_SecretMismatchRevokesOnConnect(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusPairing, "topsecret")

	payload, _ := nip46.NewRequest("req-5", domain.MethodConnect, []string{peer.keys.PublicKey, "topsecret"})
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), sess, payload)
		done <- err
	}()

	waitFor(t, "request published", func() bool { return ft.publishedCount() == 1 })
	// A result matching neither the secret nor "ack": the signer validated
	// a different secret.
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: "req-5", Result: "WRONG"}))

	if err := <-done; !errors.Is(err, domain.ErrSecretValidation) {
		t.Fatalf("want ErrSecretValidation, got %v", err)
	}
	s, _ := mgr.GetSession(sess.ID)
	if s.Status != domain.StatusRevoked {
		t.Fatalf("status = %s, want revoked", s.Status)
	}
	if s.LastError == nil || *s.LastError != "Remote signer failed secret validation" {
		t.Fatalf("lastError = %v", s.LastError)
	}
}

func TestResponse_SecretEchoActivatesAndClears(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusPairing, "topsecret")

	payload, _ := nip46.NewRequest("req-6", domain.MethodConnect, []string{peer.keys.PublicKey, "topsecret"})
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), sess, payload)
		done <- err
	}()

	waitFor(t, "request published", func() bool { return ft.publishedCount() == 1 })
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: "req-6", Result: "topsecret"}))

	if err := <-done; err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s, _ := mgr.GetSession(sess.ID)
	if s.Status != domain.StatusActive || s.PairingSecret != "" || s.LastError != nil {
		t.Fatalf("session = %+v", s)
	}
}

func TestUnsolicitedResponse_UpdatesSessionAndAdoptsPubkey(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusPairing, "")
	// Forget the signer key to exercise adoption.
	if _, err := mgr.Update(context.Background(), sess.ID, func(s *domain.Session) {
		s.RemoteSignerPubkey = ""
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = q // the queue only watches; nothing in flight
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: "never-sent", Result: "ok"}))

	waitFor(t, "session refreshed", func() bool {
		s, _ := mgr.GetSession(sess.ID)
		return s.LastSeenAt != 0
	})
	s, _ := mgr.GetSession(sess.ID)
	if s.RemoteSignerPubkey != peer.keys.PublicKey {
		t.Fatalf("remote pubkey not adopted: %+v", s)
	}
	if s.Status != domain.StatusActive {
		t.Fatalf("status = %s", s.Status)
	}
}

func TestIncomingConnect_HappyPath(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)

	// A client-initiated invitation: signer key unknown, secret agreed.
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	now := time.Now().UnixMilli()
	sess, err := mgr.Upsert(context.Background(), domain.Session{
		ID:               domain.NewSessionID(domain.ClientInitiated, kp.PublicKey, now),
		Type:             domain.ClientInitiated,
		ClientPublicKey:  kp.PublicKey,
		ClientPrivateKey: kp.SecretKey,
		Relays:           []string{"wss://r.example"},
		Status:           domain.StatusPairing,
		Algorithm:        domain.AlgorithmNIP44,
		PairingSecret:    "s3cr3t",
		CreatedAt:        now,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_ = q

	ft.deliver(t, peer.requestEvent(t, sess.ClientPublicKey, domain.RequestPayload{
		ID: "Q1", Method: domain.MethodConnect, Params: []string{sess.ClientPublicKey, "s3cr3t"},
	}))

	// The reply echoes the secret.
	waitFor(t, "reply published", func() bool { return ft.publishedCount() >= 1 })
	reply, err := nip46.DecodeResponse(ft.publishedAt(0).Content, peer.cipherFor(sess.ClientPublicKey))
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.ID != "Q1" || reply.Result != "s3cr3t" {
		t.Fatalf("reply = %+v", reply)
	}

	waitFor(t, "session activated", func() bool {
		s, _ := mgr.GetSession(sess.ID)
		return s.Status == domain.StatusActive
	})
	s, _ := mgr.GetSession(sess.ID)
	if s.PairingSecret != "" || s.RemoteSignerPubkey != peer.keys.PublicKey || s.LastError != nil {
		t.Fatalf("session = %+v", s)
	}
	if active, _ := mgr.GetActiveSession(); active.ID != sess.ID {
		t.Fatalf("session not active pointer")
	}

	// userPubkey is missing and get_public_key is granted, so the queue
	// auto-enqueues the lookup; answer it and watch the key land.
	waitFor(t, "get_public_key published", func() bool { return ft.publishedCount() >= 2 })
	req := decodeClientRequest(t, peer, s, ft.publishedAt(1))
	if req.Method != domain.MethodGetPublicKey {
		t.Fatalf("auto request = %+v", req)
	}
	user := newSignerPeer(t) // any valid key
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: req.ID, Result: user.keys.PublicKey}))

	waitFor(t, "user pubkey stored", func() bool {
		s, _ := mgr.GetSession(sess.ID)
		return s.UserPubkey == user.keys.PublicKey
	})
}

func TestIncomingConnect_SecretMismatchRevokes(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	now := time.Now().UnixMilli()
	sess, err := mgr.Upsert(context.Background(), domain.Session{
		ID:               domain.NewSessionID(domain.ClientInitiated, kp.PublicKey, now),
		Type:             domain.ClientInitiated,
		ClientPublicKey:  kp.PublicKey,
		ClientPrivateKey: kp.SecretKey,
		Relays:           []string{"wss://r.example"},
		Status:           domain.StatusPairing,
		Algorithm:        domain.AlgorithmNIP44,
		PairingSecret:    "s3cr3t",
		CreatedAt:        now,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_ = q

	ft.deliver(t, peer.requestEvent(t, sess.ClientPublicKey, domain.RequestPayload{
		ID: "Q1", Method: domain.MethodConnect, Params: []string{sess.ClientPublicKey, "WRONG"},
	}))

	waitFor(t, "reply published", func() bool { return ft.publishedCount() >= 1 })
	reply, err := nip46.DecodeResponse(ft.publishedAt(0).Content, peer.cipherFor(sess.ClientPublicKey))
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Error != "invalid_secret" {
		t.Fatalf("reply = %+v", reply)
	}
	s, _ := mgr.GetSession(sess.ID)
	if s.Status != domain.StatusRevoked || s.LastError == nil || *s.LastError != "Signer failed secret validation" {
		t.Fatalf("session = %+v", s)
	}
}

func TestIncomingRequest_NonConnectIsRejected(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")
	_ = q

	ft.deliver(t, peer.requestEvent(t, sess.ClientPublicKey, domain.RequestPayload{
		ID: "Q9", Method: domain.MethodSignEvent, Params: []string{"{}"},
	}))

	waitFor(t, "reply published", func() bool { return ft.publishedCount() >= 1 })
	reply, err := nip46.DecodeResponse(ft.publishedAt(0).Content, peer.cipherFor(sess.ClientPublicKey))
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.ID != "Q9" || reply.Error != "unsupported_method" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestSubscription_TornDownWithoutSessions(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")
	_ = q

	ft.waitHandler(t)
	if err := mgr.Remove(context.Background(), sess.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, "subscription torn down", func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return ft.handler == nil
	})
}

func TestClose_ReleasesWaiters(t *testing.T) {
	mgr, ft, q := testQueue(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")

	payload, _ := nip46.NewRequest("req-9", domain.MethodPing, nil)
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), sess, payload)
		done <- err
	}()
	waitFor(t, "request published", func() bool { return ft.publishedCount() == 1 })

	q.Close()
	if err := <-done; !errors.Is(err, domain.ErrQueueClosed) {
		t.Fatalf("want ErrQueueClosed, got %v", err)
	}
}

// Guard the wire shape of outgoing requests: kind, one p tag, client
// pubkey, valid signature, ciphertext only.
func TestOutgoingEventShape(t *testing.T) {
	mgr, ft, q := testQueue(t, signer.WithRequestTimeout(100*time.Millisecond))
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusActive, "")

	payload, _ := nip46.NewRequest("req-10", domain.MethodPing, nil)
	_, _ = q.Enqueue(context.Background(), sess, payload) // times out; we only need the event

	evt := ft.publishedAt(0)
	if evt == nil {
		t.Fatal("nothing published")
	}
	if evt.Kind != domain.KindRemoteSigning {
		t.Fatalf("kind = %d", evt.Kind)
	}
	if len(evt.Tags) != 1 || evt.Tags[0][0] != "p" || evt.Tags[0][1] != peer.keys.PublicKey {
		t.Fatalf("tags = %v", evt.Tags)
	}
	if evt.PubKey != sess.ClientPublicKey {
		t.Fatalf("event pubkey = %s", evt.PubKey)
	}
	if ok, err := evt.CheckSignature(); err != nil || !ok {
		t.Fatalf("signature invalid: %v %v", ok, err)
	}
	var leaked map[string]any
	if err := json.Unmarshal([]byte(evt.Content), &leaked); err == nil {
		t.Fatal("content is not ciphertext")
	}
}
