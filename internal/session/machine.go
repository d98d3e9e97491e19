package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"walletlink/go-client/internal/crypto"
	"walletlink/go-client/pkg/models"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNoKeyPair         = errors.New("no local key pair for pending connect")
)

var allowedTransitions = map[State]map[State]bool{
	StateDisconnected: {StateDisconnected: true, StateKeyExchanged: true, StateConnected: true},
	StateKeyExchanged: {StateKeyExchanged: true, StateConnected: true, StateDisconnected: true},
	StateConnected:    {StateConnected: true, StateDisconnected: true},
}

type Options struct {
	Store        Store
	Logger       *slog.Logger
	OnTransition func(from, to State)
	Now          func() time.Time
}

// Machine drives a Context through Disconnected, KeyExchanged and Connected
// and persists every change to its Store.
type Machine struct {
	mu           sync.Mutex
	ctx          *Context
	store        Store
	logger       *slog.Logger
	onTransition func(from, to State)
	now          func() time.Time
}

// NewMachine restores the last persisted snapshot, if any. A snapshot that
// cannot be read or is inconsistent is discarded and the machine starts
// disconnected.
func NewMachine(opts Options) (*Machine, error) {
	m := &Machine{
		ctx:          NewContext(),
		store:        opts.Store,
		logger:       opts.Logger,
		onTransition: opts.OnTransition,
		now:          opts.Now,
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m.now == nil {
		m.now = time.Now
	}

	snapshot, ok, err := m.store.Load()
	if err != nil {
		if clearErr := m.discardSnapshot(fmt.Errorf("load session snapshot: %w", err)); clearErr != nil {
			return nil, clearErr
		}
		return m, nil
	}
	if !ok {
		return m, nil
	}
	restored, err := RestoreContext(snapshot)
	if err != nil {
		if clearErr := m.discardSnapshot(err); clearErr != nil {
			return nil, clearErr
		}
		return m, nil
	}
	m.ctx = restored
	m.logger.Debug("session restored", "component", "session", "state", string(restored.state))
	return m, nil
}

func (m *Machine) discardSnapshot(cause error) error {
	m.logger.Warn("discarding session snapshot", "component", "session", "error", cause.Error())
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("clear unreadable session snapshot: %w", err)
	}
	return nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.state
}

// KeyPair returns a copy of the local key pair of the current attempt.
func (m *Machine) KeyPair() (crypto.KeyPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.keyPair == nil {
		return crypto.KeyPair{}, false
	}
	return *m.ctx.keyPair, true
}

func (m *Machine) SharedSecret() (crypto.SharedSecret, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.sharedSecret == nil {
		return crypto.SharedSecret{}, false
	}
	return *m.ctx.sharedSecret, true
}

func (m *Machine) HasSharedSecret() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.sharedSecret != nil
}

// Remote returns the wallet side of the current key exchange.
func (m *Machine) Remote() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.state == StateDisconnected {
		return Session{}, false
	}
	return m.ctx.remote, true
}

// Session returns the established session; only Connected has one.
func (m *Machine) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.state != StateConnected {
		return Session{}, false
	}
	return m.ctx.remote, true
}

func (m *Machine) WalletPublicKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.walletPublicKey
}

func (m *Machine) Status() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.SessionStatus{
		State:           string(m.ctx.state),
		WalletPublicKey: m.ctx.walletPublicKey,
		DappPublicKey:   m.ctx.keyPair.PublicKeyBase58(),
		HasSharedSecret: m.ctx.sharedSecret != nil,
		UpdatedAt:       m.ctx.updatedAt,
	}
}

// BeginConnect starts a new attempt: any previous session is dropped and kp
// becomes the key pair whose response can complete the exchange.
func (m *Machine) BeginConnect(kp *crypto.KeyPair) error {
	if kp == nil {
		return ErrNoKeyPair
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(StateDisconnected); err != nil {
		return err
	}
	next := NewContext()
	owned := *kp
	next.keyPair = &owned
	return m.commitLocked(next)
}

// CompleteKeyExchange records the wallet key, nonce and derived secret of a
// connect response that did not (yet) yield the wallet account.
func (m *Machine) CompleteKeyExchange(walletEncryptionKey, nonce string, secret crypto.SharedSecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.keyPair == nil {
		return ErrNoKeyPair
	}
	if err := m.checkLocked(StateKeyExchanged); err != nil {
		return err
	}
	next := m.ctx.clone()
	next.sharedSecret.Wipe()
	next.sharedSecret = &secret
	next.remote = Session{WalletEncryptionPublicKey: walletEncryptionKey, Nonce: nonce}
	next.walletPublicKey = ""
	next.state = StateKeyExchanged
	return m.commitLocked(next)
}

// Connect establishes the session directly from a connect response whose
// data decrypted to the wallet account key.
func (m *Machine) Connect(remote Session, secret crypto.SharedSecret, walletPublicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.keyPair == nil {
		return ErrNoKeyPair
	}
	if err := m.checkLocked(StateConnected); err != nil {
		return err
	}
	next := m.ctx.clone()
	next.sharedSecret.Wipe()
	next.sharedSecret = &secret
	next.remote = remote
	next.walletPublicKey = walletPublicKey
	next.state = StateConnected
	return m.commitLocked(next)
}

// ConfirmWallet completes a KeyExchanged session, or refreshes the account
// key of a Connected one, from an encrypted response carrying public_key.
func (m *Machine) ConfirmWallet(walletPublicKey, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.ctx.state
	if from == StateDisconnected || m.ctx.sharedSecret == nil {
		return fmt.Errorf("%w: %s -> %s without shared secret", ErrInvalidTransition, from, StateConnected)
	}
	next := m.ctx.clone()
	next.walletPublicKey = walletPublicKey
	if token != "" {
		next.remote.Token = token
	}
	next.state = StateConnected
	return m.commitLocked(next)
}

// AbortKeyExchange clears a half-open exchange. The key pair is kept so a
// valid response to the same attempt can still complete it.
func (m *Machine) AbortKeyExchange() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.state != StateKeyExchanged {
		return nil
	}
	next := m.ctx.clone()
	next.clearExchange()
	next.state = StateDisconnected
	return m.commitLocked(next)
}

// Disconnect wipes all local key material. It does not wait for the wallet,
// and local state clears even when the store cannot be cleared.
func (m *Machine) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.ctx.state
	prev := m.ctx
	m.ctx = NewContext()
	m.ctx.updatedAt = m.now().UTC()
	prev.Reset()
	m.notifyLocked(from, StateDisconnected)
	if err := m.store.Clear(); err != nil {
		m.logger.Error("clear session store failed", "component", "session", "error", err.Error())
		return err
	}
	return nil
}

func (m *Machine) checkLocked(to State) error {
	if !allowedTransitions[m.ctx.state][to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.ctx.state, to)
	}
	return nil
}

// commitLocked persists next and only then makes it current. On a store
// failure the current context is left untouched and next is wiped.
func (m *Machine) commitLocked(next *Context) error {
	next.updatedAt = m.now().UTC()
	if err := m.store.Save(next.Snapshot()); err != nil {
		m.logger.Error("persist session failed", "component", "session", "state", string(next.state), "error", err.Error())
		next.Reset()
		return err
	}
	prev := m.ctx
	from := prev.state
	m.ctx = next
	prev.Reset()
	m.notifyLocked(from, next.state)
	return nil
}

func (m *Machine) notifyLocked(from, to State) {
	if from == to {
		return
	}
	m.logger.Info("session transition", "component", "session", "from", string(from), "to", string(to))
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}
