package session

import (
	"errors"
	"fmt"
	"time"

	"walletlink/go-client/internal/crypto"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateKeyExchanged State = "key_exchanged"
	StateConnected    State = "connected"
)

const snapshotVersion = 1

var ErrCorruptSnapshot = errors.New("session snapshot is inconsistent")

// Session is the wallet side of a key exchange. Token is the opaque session
// string the wallet returns with its account key; it may be empty.
type Session struct {
	WalletEncryptionPublicKey string `json:"wallet_encryption_public_key"`
	Nonce                     string `json:"nonce"`
	Token                     string `json:"token,omitempty"`
}

// Context is the protocol state owned by one wallet link: the local key pair,
// the shared secret, the remote session and the wallet account key.
type Context struct {
	state           State
	keyPair         *crypto.KeyPair
	sharedSecret    *crypto.SharedSecret
	remote          Session
	walletPublicKey string
	updatedAt       time.Time
}

func NewContext() *Context {
	return &Context{state: StateDisconnected}
}

// Reset wipes all key material and returns the context to Disconnected.
func (c *Context) Reset() {
	c.keyPair.Wipe()
	c.sharedSecret.Wipe()
	c.keyPair = nil
	c.sharedSecret = nil
	c.remote = Session{}
	c.walletPublicKey = ""
	c.state = StateDisconnected
}

// clone copies c with its own key material, so wiping one never touches the other.
func (c *Context) clone() *Context {
	out := *c
	if c.keyPair != nil {
		kp := *c.keyPair
		out.keyPair = &kp
	}
	if c.sharedSecret != nil {
		secret := *c.sharedSecret
		out.sharedSecret = &secret
	}
	return &out
}

func (c *Context) clearExchange() {
	c.sharedSecret.Wipe()
	c.sharedSecret = nil
	c.remote = Session{}
	c.walletPublicKey = ""
}

// Snapshot is the persisted image of a Context. Key material is base58 encoded.
type Snapshot struct {
	Version         int       `json:"version"`
	State           State     `json:"state"`
	DappSecretKey   string    `json:"dapp_secret_key,omitempty"`
	SharedSecret    string    `json:"shared_secret,omitempty"`
	Remote          *Session  `json:"remote,omitempty"`
	WalletPublicKey string    `json:"wallet_public_key,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (c *Context) Snapshot() Snapshot {
	s := Snapshot{
		Version:         snapshotVersion,
		State:           c.state,
		WalletPublicKey: c.walletPublicKey,
		UpdatedAt:       c.updatedAt,
	}
	if c.keyPair != nil {
		s.DappSecretKey = crypto.EncodeBase58(c.keyPair.SecretKey[:])
	}
	if c.sharedSecret != nil {
		s.SharedSecret = crypto.EncodeBase58(c.sharedSecret[:])
	}
	if c.remote != (Session{}) {
		remote := c.remote
		s.Remote = &remote
	}
	return s
}

// RestoreContext rebuilds a Context from a snapshot, rejecting combinations
// the state machine can never produce.
func RestoreContext(s Snapshot) (*Context, error) {
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, s.Version)
	}
	c := NewContext()
	c.updatedAt = s.UpdatedAt
	if s.DappSecretKey != "" {
		secret, err := crypto.DecodeKey32(s.DappSecretKey)
		if err != nil {
			return nil, fmt.Errorf("%w: dapp secret key: %v", ErrCorruptSnapshot, err)
		}
		kp, err := crypto.KeyPairFromSecret(*secret)
		if err != nil {
			return nil, fmt.Errorf("%w: dapp secret key: %v", ErrCorruptSnapshot, err)
		}
		c.keyPair = kp
	}
	if s.SharedSecret != "" {
		raw, err := crypto.DecodeKey32(s.SharedSecret)
		if err != nil {
			return nil, fmt.Errorf("%w: shared secret: %v", ErrCorruptSnapshot, err)
		}
		secret := crypto.SharedSecret(*raw)
		c.sharedSecret = &secret
	}
	if s.Remote != nil {
		c.remote = *s.Remote
	}
	c.walletPublicKey = s.WalletPublicKey

	switch s.State {
	case StateDisconnected, "":
		c.state = StateDisconnected
		if c.sharedSecret != nil || c.walletPublicKey != "" {
			return nil, fmt.Errorf("%w: disconnected state carries session data", ErrCorruptSnapshot)
		}
	case StateKeyExchanged:
		c.state = StateKeyExchanged
		if c.keyPair == nil || c.sharedSecret == nil || c.remote.WalletEncryptionPublicKey == "" {
			return nil, fmt.Errorf("%w: key exchange without key material", ErrCorruptSnapshot)
		}
	case StateConnected:
		c.state = StateConnected
		if c.keyPair == nil || c.sharedSecret == nil || c.walletPublicKey == "" {
			return nil, fmt.Errorf("%w: connected state without session", ErrCorruptSnapshot)
		}
	default:
		return nil, fmt.Errorf("%w: unknown state %q", ErrCorruptSnapshot, s.State)
	}
	return c, nil
}
