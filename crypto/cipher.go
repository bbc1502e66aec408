package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// NonceSize is the size of the per-frame nonce transmitted in front of the
// ciphertext.
const NonceSize = 12

// KeySizes lists the supported key lengths in bytes.
var KeySizes = []int{16, 24, 32}

// ErrAuthenticationFailed is returned by Open when a frame cannot be
// authenticated. It deliberately does not distinguish between a truncated
// frame, a tag mismatch and a wrong key.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Cipher seals and opens byte frames under a fixed symmetric key. It is
// stateless apart from the key and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a 16, 24 or 32 byte key.
func New(key []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid key length %d: want 16, 24 or 32 bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns
// nonce || ciphertext+tag. Nonce reuse is prevented structurally: the nonce
// is drawn from crypto/rand for every call.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	frame := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(frame[:NonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(frame, frame[:NonceSize], plaintext, nil), nil
}

// Open authenticates and decrypts a frame produced by Seal.
func (c *Cipher) Open(frame []byte) ([]byte, error) {
	if len(frame) < NonceSize+c.aead.Overhead() {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := c.aead.Open(nil, frame[:NonceSize], frame[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Overhead returns the number of bytes Seal adds to a plaintext.
func (c *Cipher) Overhead() int {
	return NonceSize + c.aead.Overhead()
}
