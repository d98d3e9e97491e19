package deeplink

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"walletlink/go-client/internal/contracts"
	"walletlink/go-client/internal/crypto"
	"walletlink/go-client/internal/platform/ratelimiter"
	"walletlink/go-client/internal/session"
	"walletlink/go-client/pkg/models"
)

const redirect = "myapp://onConnect"

type fakeWallet struct {
	t  *testing.T
	kp *crypto.KeyPair
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	kp, err := crypto.NewKeyPairProvider(nil).Generate()
	if err != nil {
		t.Fatalf("generate wallet key pair: %v", err)
	}
	return &fakeWallet{t: t, kp: kp}
}

func (w *fakeWallet) secretWith(dappPublicKey string) crypto.SharedSecret {
	w.t.Helper()
	secret, err := crypto.DeriveSharedSecret(dappPublicKey, &w.kp.SecretKey)
	if err != nil {
		w.t.Fatalf("wallet derive: %v", err)
	}
	return secret
}

func (w *fakeWallet) seal(dappPublicKey string, payload any) (nonce, data string) {
	w.t.Helper()
	secret := w.secretWith(dappPublicKey)
	n, sealed, err := crypto.EncryptPayload(payload, &secret)
	if err != nil {
		w.t.Fatalf("wallet seal: %v", err)
	}
	return crypto.EncodeBase58(n[:]), crypto.EncodeBase58(sealed)
}

func (w *fakeWallet) connectURL(dappPublicKey string, payload any) string {
	w.t.Helper()
	nonce, data := w.seal(dappPublicKey, payload)
	q := url.Values{}
	q.Set(ParamWalletEncryptionPublicKey, w.kp.PublicKeyBase58())
	q.Set(ParamNonce, nonce)
	q.Set(ParamData, data)
	return redirect + "?" + q.Encode()
}

func (w *fakeWallet) encryptedURL(dappPublicKey string, payload any) string {
	w.t.Helper()
	nonce, data := w.seal(dappPublicKey, payload)
	q := url.Values{}
	q.Set(ParamNonce, nonce)
	q.Set(ParamData, data)
	return redirect + "?" + q.Encode()
}

type routerFixture struct {
	machine *session.Machine
	router  *Router
	dappKey string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	m, err := session.NewMachine(session.Options{})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return &routerFixture{
		machine: m,
		router:  NewRouter(RouterOptions{Machine: m, EventBuffer: 8}),
	}
}

func (f *routerFixture) beginConnect(t *testing.T) {
	t.Helper()
	kp, err := crypto.NewKeyPairProvider(nil).Generate()
	if err != nil {
		t.Fatalf("generate dapp key pair: %v", err)
	}
	if err := f.machine.BeginConnect(kp); err != nil {
		t.Fatalf("begin connect: %v", err)
	}
	f.dappKey = kp.PublicKeyBase58()
}

func nextEvent(t *testing.T, r *Router) models.Event {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	default:
		t.Fatal("expected an event")
		return models.Event{}
	}
}

func expectNoEvent(t *testing.T, r *Router) {
	t.Helper()
	select {
	case ev := <-r.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestRouterRemoteError(t *testing.T) {
	f := newRouterFixture(t)
	f.router.OnIncomingURL("myapp://onConnect?errorCode=4001&errorMessage=User+rejected")

	ev := nextEvent(t, f.router)
	if ev.Kind != models.EventRemoteError || ev.ErrorCode != "4001" || ev.ErrorMessage != "User rejected" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	var remote *contracts.RemoteError
	if !errors.As(ev.Err, &remote) || remote.Code != "4001" {
		t.Fatalf("expected RemoteError, got %v", ev.Err)
	}
	if contracts.ErrorCategory(ev.Err) != contracts.ErrorCategoryRemote {
		t.Fatalf("unexpected category %q", contracts.ErrorCategory(ev.Err))
	}
	if f.machine.State() != session.StateDisconnected {
		t.Fatalf("remote error must not transition, got %s", f.machine.State())
	}
	expectNoEvent(t, f.router)
}

func TestRouterConnectEstablishesSession(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)

	f.router.OnIncomingURL(wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123", "session": "tok"}))

	ev := nextEvent(t, f.router)
	if ev.Kind != models.EventConnected || ev.WalletPublicKey != "Abc123" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ReceivedAt.IsZero() {
		t.Fatal("event must carry a receive time")
	}
	if f.machine.State() != session.StateConnected {
		t.Fatalf("expected connected, got %s", f.machine.State())
	}
	s, ok := f.machine.Session()
	if !ok || s.Token != "tok" || s.WalletEncryptionPublicKey != wallet.kp.PublicKeyBase58() {
		t.Fatalf("unexpected session %+v", s)
	}
	secret, _ := f.machine.SharedSecret()
	if secret != wallet.secretWith(f.dappKey) {
		t.Fatal("local shared secret must match the wallet's")
	}
}

func TestRouterDuplicateConnectIsIgnored(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	link := newFakeWallet(t).connectURL(f.dappKey, map[string]string{"public_key": "Abc123"})

	f.router.OnIncomingURL(link)
	_ = nextEvent(t, f.router)
	before := f.machine.Status()
	secretBefore, _ := f.machine.SharedSecret()

	f.router.OnIncomingURL(link)
	expectNoEvent(t, f.router)
	after := f.machine.Status()
	if before != after {
		t.Fatalf("duplicate connect changed state: %+v -> %+v", before, after)
	}
	if secretAfter, _ := f.machine.SharedSecret(); secretAfter != secretBefore {
		t.Fatal("duplicate connect must derive the same shared secret")
	}
}

func TestRouterConnectWithoutDataKeyExchanges(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	nonce, _ := wallet.seal(f.dappKey, map[string]string{})

	q := url.Values{}
	q.Set(ParamWalletEncryptionPublicKey, wallet.kp.PublicKeyBase58())
	q.Set(ParamNonce, nonce)
	f.router.OnIncomingURL(redirect + "?" + q.Encode())

	if ev := nextEvent(t, f.router); ev.Kind != models.EventKeyExchanged {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if f.machine.State() != session.StateKeyExchanged {
		t.Fatalf("expected key_exchanged, got %s", f.machine.State())
	}
	if _, ok := f.machine.Session(); ok {
		t.Fatal("key exchange alone must not expose a session")
	}

	f.router.OnIncomingURL(wallet.encryptedURL(f.dappKey, map[string]string{"public_key": "Abc123"}))
	ev := nextEvent(t, f.router)
	if ev.Kind != models.EventConnected || ev.WalletPublicKey != "Abc123" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if f.machine.State() != session.StateConnected {
		t.Fatalf("expected connected, got %s", f.machine.State())
	}
}

func TestRouterRemoteErrorAbortsHalfOpenExchangeOnly(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	nonce, _ := wallet.seal(f.dappKey, map[string]string{})
	q := url.Values{}
	q.Set(ParamWalletEncryptionPublicKey, wallet.kp.PublicKeyBase58())
	q.Set(ParamNonce, nonce)
	f.router.OnIncomingURL(redirect + "?" + q.Encode())
	_ = nextEvent(t, f.router)

	f.router.OnIncomingURL(redirect + "?errorCode=4001&errorMessage=User+rejected")
	_ = nextEvent(t, f.router)
	if f.machine.State() != session.StateDisconnected || f.machine.HasSharedSecret() {
		t.Fatalf("remote error must abort the half-open exchange, got %s", f.machine.State())
	}

	f.router.OnIncomingURL(wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123"}))
	_ = nextEvent(t, f.router)
	f.router.OnIncomingURL(redirect + "?errorCode=-32603&errorMessage=Internal+error")
	_ = nextEvent(t, f.router)
	if f.machine.State() != session.StateConnected {
		t.Fatalf("remote error must not tear down a session, got %s", f.machine.State())
	}
}

func TestRouterConnectWithUndecryptableData(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	other := newFakeWallet(t)
	nonce, data := other.seal(f.dappKey, map[string]string{"public_key": "Abc123"})

	q := url.Values{}
	q.Set(ParamWalletEncryptionPublicKey, wallet.kp.PublicKeyBase58())
	q.Set(ParamNonce, nonce)
	q.Set(ParamData, data)
	f.router.OnIncomingURL(redirect + "?" + q.Encode())

	ev := nextEvent(t, f.router)
	if ev.Kind != models.EventDecryptionFailed || !errors.Is(ev.Err, crypto.ErrDecryptionFailed) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if contracts.ErrorCategory(ev.Err) != contracts.ErrorCategoryDecryption {
		t.Fatalf("unexpected category %q", contracts.ErrorCategory(ev.Err))
	}
	if f.machine.State() != session.StateKeyExchanged {
		t.Fatalf("expected key_exchanged, got %s", f.machine.State())
	}
}

func TestRouterConnectWithInvalidWalletKey(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)

	f.router.OnIncomingURL(redirect + "?phantom_encryption_public_key=0OIl&nonce=abc")

	ev := nextEvent(t, f.router)
	if ev.Kind != models.EventDecryptionFailed || !errors.Is(ev.Err, crypto.ErrInvalidPeerKey) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if f.machine.State() != session.StateDisconnected || f.machine.HasSharedSecret() {
		t.Fatal("invalid wallet key must not leave a shared secret")
	}
	if _, ok := f.machine.KeyPair(); !ok {
		t.Fatal("key pair of the pending attempt must survive")
	}
}

func TestRouterInvalidWalletKeyWhileConnectedIsDropped(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	f.router.OnIncomingURL(wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123"}))
	_ = nextEvent(t, f.router)

	f.router.OnIncomingURL(redirect + "?phantom_encryption_public_key=0OIl&nonce=abc")
	expectNoEvent(t, f.router)
	if f.machine.State() != session.StateConnected || f.machine.WalletPublicKey() != "Abc123" {
		t.Fatalf("connected session must be untouched, got %+v", f.machine.Status())
	}
}

func TestRouterConnectWithoutPendingAttemptIsDropped(t *testing.T) {
	f := newRouterFixture(t)
	wallet := newFakeWallet(t)
	stranger := newFakeWallet(t)

	f.router.OnIncomingURL(wallet.connectURL(stranger.kp.PublicKeyBase58(), map[string]string{"public_key": "Abc123"}))
	expectNoEvent(t, f.router)
	if f.machine.State() != session.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", f.machine.State())
	}
}

func TestRouterStaleResponseAfterDisconnect(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	f.router.OnIncomingURL(wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123"}))
	_ = nextEvent(t, f.router)

	late := wallet.encryptedURL(f.dappKey, map[string]string{"signature": "Sig111"})
	if err := f.machine.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	f.router.OnIncomingURL(late)
	expectNoEvent(t, f.router)
	if f.machine.State() != session.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", f.machine.State())
	}
}

func TestRouterEncryptedResponseFields(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	f.router.OnIncomingURL(wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123"}))
	_ = nextEvent(t, f.router)

	f.router.OnIncomingURL(wallet.encryptedURL(f.dappKey, map[string]string{"signature": "Sig111"}))
	if ev := nextEvent(t, f.router); ev.Kind != models.EventSignature || ev.Signature != "Sig111" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	f.router.OnIncomingURL(wallet.encryptedURL(f.dappKey, map[string]string{"signature": "Sig222", "transaction": "Tx333"}))
	if ev := nextEvent(t, f.router); ev.Kind != models.EventSignature || ev.Signature != "Sig222" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev := nextEvent(t, f.router); ev.Kind != models.EventTransaction || ev.Transaction != "Tx333" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	f.router.OnIncomingURL(wallet.encryptedURL(f.dappKey, map[string]string{"unknown": "x"}))
	expectNoEvent(t, f.router)
}

func TestRouterDropsUndecryptableEncryptedResponse(t *testing.T) {
	f := newRouterFixture(t)
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	f.router.OnIncomingURL(wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123"}))
	_ = nextEvent(t, f.router)

	f.router.OnIncomingURL(redirect + "?nonce=" + crypto.EncodeBase58(make([]byte, crypto.NonceSize)) + "&data=3xyz")
	expectNoEvent(t, f.router)
	if f.machine.State() != session.StateConnected {
		t.Fatalf("failed decrypt must not change state, got %s", f.machine.State())
	}
}

func TestRouterIgnoresUnrecognizedAndMalformedLinks(t *testing.T) {
	f := newRouterFixture(t)
	inputs := []any{
		"myapp://foo?bar=baz",
		"myapp://foo",
		"",
		"myapp://foo?%zz",
		42,
		(*models.LinkEvent)(nil),
		(*url.URL)(nil),
	}
	for _, in := range inputs {
		f.router.OnIncomingURL(in)
	}
	expectNoEvent(t, f.router)
	if f.machine.State() != session.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", f.machine.State())
	}
}

func TestRouterAcceptsLinkEventWrappers(t *testing.T) {
	f := newRouterFixture(t)
	raw := "myapp://onConnect?errorCode=4001&errorMessage=User+rejected"
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, in := range []any{models.LinkEvent{URL: raw}, &models.LinkEvent{URL: raw}, u} {
		f.router.OnIncomingURL(in)
		if ev := nextEvent(t, f.router); ev.Kind != models.EventRemoteError {
			t.Fatalf("input %T: unexpected event %+v", in, ev)
		}
	}
}

func TestRouterDropsEventsWhenBufferIsFull(t *testing.T) {
	m, err := session.NewMachine(session.Options{})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	r := NewRouter(RouterOptions{Machine: m, EventBuffer: 1})
	r.OnIncomingURL("myapp://x?errorCode=1")
	r.OnIncomingURL("myapp://x?errorCode=2")

	if ev := nextEvent(t, r); ev.ErrorCode != "1" {
		t.Fatalf("expected first event to be kept, got %+v", ev)
	}
	expectNoEvent(t, r)
}

func TestRouterUsesInjectedClock(t *testing.T) {
	m, err := session.NewMachine(session.Options{})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRouter(RouterOptions{Machine: m, Now: func() time.Time { return at }})
	r.OnIncomingURL("myapp://x?errorCode=1")
	if ev := nextEvent(t, r); !ev.ReceivedAt.Equal(at) {
		t.Fatalf("unexpected receive time %s", ev.ReceivedAt)
	}
}

func TestRouterThrottlesJunkButNotWalletResponses(t *testing.T) {
	m, err := session.NewMachine(session.Options{})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &routerFixture{
		machine: m,
		router: NewRouter(RouterOptions{
			Machine:     m,
			Limiter:     ratelimiter.New(1, 1, time.Minute),
			EventBuffer: 8,
			Now:         func() time.Time { return at },
		}),
	}
	f.beginConnect(t)
	wallet := newFakeWallet(t)

	for i := 0; i < 50; i++ {
		f.router.OnIncomingURL("myapp://onConnect?junk=1")
		f.router.OnIncomingURL("myapp://onConnect?%zz")
	}
	f.router.OnIncomingURL(wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123"}))
	if ev := nextEvent(t, f.router); ev.Kind != models.EventConnected {
		t.Fatalf("connect response must not be throttled, got %+v", ev)
	}

	f.router.OnIncomingURL(redirect + "?errorCode=4001")
	f.router.OnIncomingURL(redirect + "?errorCode=4001")
	if ev := nextEvent(t, f.router); ev.Kind != models.EventRemoteError {
		t.Fatalf("unexpected event %+v", ev)
	}

	for i := 0; i < 3; i++ {
		f.router.OnIncomingURL(wallet.encryptedURL(f.dappKey, map[string]string{"signature": "Sig111"}))
		if ev := nextEvent(t, f.router); ev.Kind != models.EventSignature {
			t.Fatalf("encrypted response %d must not be throttled, got %+v", i, ev)
		}
	}
	expectNoEvent(t, f.router)
}

type toggleStore struct {
	*session.MemoryStore
	fail bool
}

func (s *toggleStore) Save(snapshot session.Snapshot) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(snapshot)
}

func TestRouterConnectNotAnnouncedWhenPersistFails(t *testing.T) {
	store := &toggleStore{MemoryStore: session.NewMemoryStore()}
	m, err := session.NewMachine(session.Options{Store: store})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	f := &routerFixture{machine: m, router: NewRouter(RouterOptions{Machine: m, EventBuffer: 8})}
	f.beginConnect(t)
	wallet := newFakeWallet(t)
	reply := wallet.connectURL(f.dappKey, map[string]string{"public_key": "Abc123"})

	store.fail = true
	f.router.OnIncomingURL(reply)
	expectNoEvent(t, f.router)
	if m.State() != session.StateDisconnected || m.HasSharedSecret() {
		t.Fatalf("unpersisted connect must not change state, got %+v", m.Status())
	}

	store.fail = false
	f.router.OnIncomingURL(reply)
	if ev := nextEvent(t, f.router); ev.Kind != models.EventConnected {
		t.Fatalf("redelivered response must connect, got %+v", ev)
	}
}
