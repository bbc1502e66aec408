package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// ParseKey decodes a hex-encoded key and validates its length.
func ParseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("invalid key length %d: want 16, 24 or 32 bytes", len(key))
	}
}

// DeriveKey derives a key of the given size from a passphrase using
// HKDF-SHA3-256. The same passphrase and size always yield the same key, so
// operators can configure a passphrase instead of distributing raw key bytes.
func DeriveKey(passphrase string, size int) ([]byte, error) {
	switch size {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid key length %d: want 16, 24 or 32 bytes", size)
	}

	reader := hkdf.New(sha3.New256, []byte(passphrase), []byte("delix-key-v1"), nil)
	key := make([]byte, size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random key of the given size.
func GenerateKey(size int) ([]byte, error) {
	switch size {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid key length %d: want 16, 24 or 32 bytes", size)
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
