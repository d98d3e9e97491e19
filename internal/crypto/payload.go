package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

const NonceSize = 24

var (
	ErrInvalidPeerKey      = errors.New("invalid peer key")
	ErrMissingSharedSecret = errors.New("missing shared secret")
	ErrDecryptionFailed    = errors.New("unable to decrypt payload")
)

// SharedSecret is the precomputed box key shared with the wallet.
type SharedSecret [32]byte

// Wipe zeroes the secret in place.
func (s *SharedSecret) Wipe() {
	if s == nil {
		return
	}
	zeroBytes(s[:])
}

// WalletPayload holds the fields the wallet may return in an encrypted response.
type WalletPayload struct {
	PublicKey   string `json:"public_key,omitempty"`
	Session     string `json:"session,omitempty"`
	Signature   string `json:"signature,omitempty"`
	Transaction string `json:"transaction,omitempty"`
}

func (p WalletPayload) Empty() bool {
	return p.PublicKey == "" && p.Signature == "" && p.Transaction == ""
}

// DeriveSharedSecret runs the box key agreement between the wallet's base58
// public key and the local secret key.
func DeriveSharedSecret(remotePublicKeyB58 string, localSecret *[32]byte) (SharedSecret, error) {
	var out SharedSecret
	if localSecret == nil {
		return out, ErrMissingSharedSecret
	}
	remote, err := DecodeKey32(remotePublicKeyB58)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	shared := (*[32]byte)(&out)
	box.Precompute(shared, remote, localSecret)
	return out, nil
}

// EncryptPayload JSON-encodes payload and seals it under secret with a fresh nonce.
func EncryptPayload(payload any, secret *SharedSecret) ([NonceSize]byte, []byte, error) {
	return encryptPayload(rand.Reader, payload, secret)
}

func encryptPayload(r io.Reader, payload any, secret *SharedSecret) ([NonceSize]byte, []byte, error) {
	var nonce [NonceSize]byte
	if secret == nil {
		return nonce, nil, ErrMissingSharedSecret
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nonce, nil, err
	}
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nonce, nil, err
	}
	sealed := box.SealAfterPrecomputation(nil, plaintext, &nonce, (*[32]byte)(secret))
	return nonce, sealed, nil
}

// DecryptPayload opens a base58 ciphertext with a base58 nonce. Every failure
// to produce a JSON value is reported as ErrDecryptionFailed; callers treat
// that as an unusable response, not as a fault.
func DecryptPayload(dataB58, nonceB58 string, secret *SharedSecret) (json.RawMessage, error) {
	if secret == nil {
		return nil, ErrMissingSharedSecret
	}
	data, err := DecodeBase58(dataB58)
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrDecryptionFailed, err)
	}
	rawNonce, err := DecodeBase58(nonceB58)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrDecryptionFailed, err)
	}
	if len(rawNonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce has %d bytes", ErrDecryptionFailed, len(rawNonce))
	}
	var nonce [NonceSize]byte
	copy(nonce[:], rawNonce)

	plaintext, ok := box.OpenAfterPrecomputation(nil, data, &nonce, (*[32]byte)(secret))
	if !ok {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("%w: payload is not JSON", ErrDecryptionFailed)
	}
	return json.RawMessage(plaintext), nil
}

// DecodeWalletPayload extracts the known wallet fields from a decrypted payload.
func DecodeWalletPayload(raw json.RawMessage) (WalletPayload, error) {
	var p WalletPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return WalletPayload{}, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return p, nil
}
