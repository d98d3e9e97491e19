package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

var ErrInvalidBase58 = errors.New("invalid base58 value")

func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

func DecodeBase58(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidBase58
	}
	out, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase58, err)
	}
	return out, nil
}

// DecodeKey32 decodes a base58 key and requires exactly 32 bytes.
func DecodeKey32(s string) (*[32]byte, error) {
	raw, err := DecodeBase58(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes, want 32", ErrInvalidBase58, len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return &out, nil
}
