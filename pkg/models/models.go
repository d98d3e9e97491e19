package models

import "time"

// LinkEvent is the OS wrapper around an inbound deep link.
type LinkEvent struct {
	URL string `json:"url"`
}

type EventKind string

const (
	EventKeyExchanged     EventKind = "key_exchanged"
	EventConnected        EventKind = "connected"
	EventSignature        EventKind = "signature"
	EventTransaction      EventKind = "transaction"
	EventRemoteError      EventKind = "remote_error"
	EventDecryptionFailed EventKind = "decryption_failed"
)

// Event is a classified inbound wallet response surfaced to the host app.
type Event struct {
	Kind            EventKind `json:"kind"`
	WalletPublicKey string    `json:"wallet_public_key,omitempty"`
	Signature       string    `json:"signature,omitempty"`
	Transaction     string    `json:"transaction,omitempty"`
	ErrorCode       string    `json:"error_code,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Err             error     `json:"-"`
	ReceivedAt      time.Time `json:"received_at"`
}

// SessionStatus is a read-only view of the wallet session.
type SessionStatus struct {
	State           string    `json:"state"`
	WalletPublicKey string    `json:"wallet_public_key,omitempty"`
	DappPublicKey   string    `json:"dapp_public_key,omitempty"`
	HasSharedSecret bool      `json:"has_shared_secret"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}
