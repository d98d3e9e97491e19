package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "WLKENC1\n"
	kdfName         = "argon2id"
)

var (
	ErrAuthFailed    = errors.New("securestore authentication failed")
	ErrInvalid       = errors.New("securestore envelope is invalid")
	ErrPlaintextData = errors.New("securestore data is not sealed")
	ErrNoPassphrase  = errors.New("securestore passphrase is empty")
)

// KDFParams are the argon2id cost parameters recorded in every envelope.
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
}

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Sealer encrypts state blobs under a passphrase-derived XChaCha20-Poly1305 key.
type Sealer struct {
	passphrase string
	params     KDFParams
}

func NewSealer(passphrase string, params KDFParams) (*Sealer, error) {
	passphrase = strings.TrimSpace(passphrase)
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	if params.Time == 0 || params.MemoryKB == 0 || params.Threads == 0 {
		params = DefaultKDFParams()
	}
	return &Sealer{passphrase: passphrase, params: params}, nil
}

// Seal returns the prefixed JSON envelope for plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := s.deriveKey(salt, s.params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     s.params.Time,
		KDFMemoryKB: s.params.MemoryKB,
		KDFThreads:  s.params.Threads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, []byte(filePrefix)),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

// Open reverses Seal. Data without the envelope prefix yields ErrPlaintextData.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrPlaintextData
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	if env.Version != envelopeVersion || env.KDF != kdfName || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	params := KDFParams{Time: env.KDFTime, MemoryKB: env.KDFMemoryKB, Threads: env.KDFThreads}
	if params.Time == 0 || params.MemoryKB == 0 || params.Threads == 0 {
		return nil, ErrInvalid
	}
	key := s.deriveKey(env.Salt, params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(filePrefix))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func IsSealed(data []byte) bool {
	return strings.HasPrefix(string(data), filePrefix)
}

func (s *Sealer) deriveKey(salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(s.passphrase), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
