package signer_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bloom/internal/crypto"
	"bloom/internal/domain"
	"bloom/internal/protocol/nip46"
	"bloom/internal/services/session"
	"bloom/internal/services/signer"
	"bloom/internal/store"
)

func testService(t *testing.T) (*session.Manager, *fakeTransport, *signer.Service) {
	t.Helper()
	mgr := session.NewManager(store.NewMemoryStore(), nil)
	ft := &fakeTransport{}
	svc := signer.NewService(mgr, ft, nil, signer.WithServiceRequestTimeout(2*time.Second))
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(svc.Destroy)
	return mgr, ft, svc
}

func TestPairWithURI_SignerInitiated(t *testing.T) {
	mgr, ft, svc := testService(t)
	peer := newSignerPeer(t)

	uri := "bunker://" + peer.keys.PublicKey + "?relay=wss://r1.example&relay=wss://r2.example&secret=S"

	done := make(chan error, 1)
	var paired domain.Session
	go func() {
		var err error
		paired, err = svc.PairWithURI(context.Background(), uri)
		done <- err
	}()

	// The session exists before the handshake settles.
	waitFor(t, "session stored", func() bool { return len(mgr.GetSessions()) == 1 })
	sess := mgr.GetSessions()[0]
	if sess.RemoteSignerPubkey != peer.keys.PublicKey || sess.UserPubkey != peer.keys.PublicKey {
		t.Fatalf("session keys = %+v", sess)
	}
	if sess.PairingSecret != "S" || sess.Status != domain.StatusPairing {
		t.Fatalf("session = %+v", sess)
	}
	if len(sess.Relays) != 2 || sess.Relays[0] != "wss://r1.example" {
		t.Fatalf("relays = %v", sess.Relays)
	}
	for _, perm := range domain.DefaultPermissions() {
		if !sess.HasPermission(perm) {
			t.Fatalf("default permission %s missing", perm)
		}
	}

	// The connect request carries [remotePubkey, secret].
	waitFor(t, "connect published", func() bool { return ft.publishedCount() >= 1 })
	req := decodeClientRequest(t, peer, sess, ft.publishedAt(0))
	if req.Method != domain.MethodConnect {
		t.Fatalf("method = %s", req.Method)
	}
	if len(req.Params) != 2 || req.Params[0] != peer.keys.PublicKey || req.Params[1] != "S" {
		t.Fatalf("params = %v", req.Params)
	}

	// Scenario from the field: signers commonly answer "ack" rather than
	// echoing the secret; both activate the session.
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: req.ID, Result: "ack"}))

	// userPubkey equals the signer's, so the facade refreshes it.
	waitFor(t, "get_public_key published", func() bool { return ft.publishedCount() >= 2 })
	pkReq := decodeClientRequest(t, peer, sess, ft.publishedAt(1))
	if pkReq.Method != domain.MethodGetPublicKey {
		t.Fatalf("follow-up method = %s", pkReq.Method)
	}
	user := newSignerPeer(t)
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: pkReq.ID, Result: user.keys.PublicKey}))

	if err := <-done; err != nil {
		t.Fatalf("pair: %v", err)
	}
	if paired.Status != domain.StatusActive || paired.PairingSecret != "" || paired.LastError != nil {
		t.Fatalf("paired session = %+v", paired)
	}
	if paired.UserPubkey != user.keys.PublicKey {
		t.Fatalf("user pubkey = %s", paired.UserPubkey)
	}
}

func TestPairWithURI_RejectsClientInitiatedScheme(t *testing.T) {
	_, _, svc := testService(t)
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, err = svc.PairWithURI(context.Background(), "nostrconnect://"+kp.PublicKey+"?relay=wss://r.example")
	if err == nil {
		t.Fatal("nostrconnect pairing accepted")
	}
}

func TestCreateInvitation(t *testing.T) {
	mgr, ft, svc := testService(t)

	inv, err := svc.CreateInvitation(context.Background(), signer.InvitationOptions{
		Relays: []string{" wss://r.example/ ", "wss://r.example"},
	})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	tok, err := nip46.ParseToken(inv.URI)
	if err != nil {
		t.Fatalf("parse built URI: %v", err)
	}
	if tok.ClientPubkey != inv.Session.ClientPublicKey {
		t.Fatalf("token pubkey = %s", tok.ClientPubkey)
	}
	if len(tok.Relays) != 1 || tok.Relays[0] != "wss://r.example" {
		t.Fatalf("token relays = %v", tok.Relays)
	}
	if len(tok.Secret) != 32 || tok.Secret != inv.Session.PairingSecret {
		t.Fatalf("secret = %q (session %q)", tok.Secret, inv.Session.PairingSecret)
	}
	if !strings.Contains(strings.Join(tok.Perms, ","), "sign_event") {
		t.Fatalf("perms = %v", tok.Perms)
	}

	stored, ok := mgr.GetSession(inv.Session.ID)
	if !ok || stored.Status != domain.StatusPairing || stored.Type != domain.ClientInitiated {
		t.Fatalf("stored = %+v, %v", stored, ok)
	}
	if stored.RemoteSignerPubkey != "" || ft.publishedCount() != 0 {
		t.Fatal("invitation must not publish a connect request")
	}
}

func TestCreateInvitation_RequiresRelays(t *testing.T) {
	_, _, svc := testService(t)
	if _, err := svc.CreateInvitation(context.Background(), signer.InvitationOptions{}); !errors.Is(err, domain.ErrNoRelays) {
		t.Fatalf("want ErrNoRelays, got %v", err)
	}
}

func TestSendRequest_UnknownSessionFailsSynchronously(t *testing.T) {
	_, ft, svc := testService(t)
	_, err := svc.SendRequest(context.Background(), "ghost", domain.MethodPing, nil, "")
	if !errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("want ErrUnknownSession, got %v", err)
	}
	if ft.publishedCount() != 0 {
		t.Fatal("request leaked to the transport")
	}
}

func TestConnectSession_ReissuesHandshake(t *testing.T) {
	mgr, ft, svc := testService(t)
	peer := newSignerPeer(t)
	sess := pairedSession(t, mgr, peer, domain.StatusPairing, "again")

	done := make(chan error, 1)
	go func() {
		_, err := svc.ConnectSession(context.Background(), sess.ID)
		done <- err
	}()

	waitFor(t, "connect published", func() bool { return ft.publishedCount() >= 1 })
	req := decodeClientRequest(t, peer, sess, ft.publishedAt(0))
	if req.Method != domain.MethodConnect || len(req.Params) != 2 || req.Params[1] != "again" {
		t.Fatalf("request = %+v", req)
	}
	ft.deliver(t, peer.responseEvent(t, sess.ClientPublicKey, domain.ResponsePayload{ID: req.ID, Result: "again"}))

	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	s, _ := mgr.GetSession(sess.ID)
	if s.Status != domain.StatusActive || s.PairingSecret != "" {
		t.Fatalf("session = %+v", s)
	}
}

func TestDestroy_IsReinitializable(t *testing.T) {
	mgr, ft, svc := testService(t)
	peer := newSignerPeer(t)
	pairedSession(t, mgr, peer, domain.StatusActive, "")

	ft.waitHandler(t)
	svc.Destroy()
	svc.Destroy() // idempotent

	waitFor(t, "subscription released", func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return ft.handler == nil
	})

	// A fresh lifecycle reattaches the subscription for existing sessions.
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	ft.waitHandler(t)
}
