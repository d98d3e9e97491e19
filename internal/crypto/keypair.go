package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair is the local box key pair used for one connection attempt.
type KeyPair struct {
	PublicKey [32]byte
	SecretKey [32]byte
}

// KeyPairProvider generates fresh key pairs.
type KeyPairProvider interface {
	Generate() (*KeyPair, error)
}

type randomKeyPairs struct {
	rand io.Reader
}

// NewKeyPairProvider returns a provider reading from r, or crypto/rand when r is nil.
func NewKeyPairProvider(r io.Reader) KeyPairProvider {
	if r == nil {
		r = rand.Reader
	}
	return &randomKeyPairs{rand: r}
}

func (p *randomKeyPairs) Generate() (*KeyPair, error) {
	pub, sec, err := box.GenerateKey(p.rand)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: *pub, SecretKey: *sec}, nil
}

// KeyPairFromSecret rebuilds a key pair from its secret half.
func KeyPairFromSecret(secret [32]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{SecretKey: secret}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

func (k *KeyPair) PublicKeyBase58() string {
	if k == nil {
		return ""
	}
	return EncodeBase58(k.PublicKey[:])
}

func (k *KeyPair) Wipe() {
	if k == nil {
		return
	}
	zeroBytes(k.SecretKey[:])
	zeroBytes(k.PublicKey[:])
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
