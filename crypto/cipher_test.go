package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	for _, size := range KeySizes {
		key, err := GenerateKey(size)
		require.NoError(t, err)

		cipher, err := New(key)
		require.NoError(t, err)

		plaintext := []byte("test message")
		frame, err := cipher.Seal(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, frame)

		opened, err := cipher.Open(frame)
		require.NoError(t, err)
		require.Equal(t, plaintext, opened)
	}
}

func TestCipherRejectsInvalidKeyLength(t *testing.T) {
	for _, size := range []int{0, 8, 15, 17, 33, 64} {
		_, err := New(make([]byte, size))
		require.Error(t, err)
	}
}

func TestCipherFreshNoncePerFrame(t *testing.T) {
	cipher := mustCipher(t, 32)

	one, err := cipher.Seal([]byte("payload"))
	require.NoError(t, err)
	two, err := cipher.Seal([]byte("payload"))
	require.NoError(t, err)

	require.NotEqual(t, one[:NonceSize], two[:NonceSize])
	require.NotEqual(t, one, two)
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	cipher := mustCipher(t, 32)
	frame, err := cipher.Seal([]byte("secret"))
	require.NoError(t, err)

	other := mustCipher(t, 32)
	plaintext, err := other.Open(frame)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Nil(t, plaintext)
}

func TestOpenFailsOnTamperedFrame(t *testing.T) {
	cipher := mustCipher(t, 16)
	frame, err := cipher.Seal([]byte("secret"))
	require.NoError(t, err)

	for i := range frame {
		tampered := append([]byte(nil), frame...)
		tampered[i] ^= 0x01
		plaintext, err := cipher.Open(tampered)
		require.ErrorIs(t, err, ErrAuthenticationFailed)
		require.Nil(t, plaintext)
	}
}

func TestOpenFailsOnTruncatedFrame(t *testing.T) {
	cipher := mustCipher(t, 16)
	frame, err := cipher.Seal([]byte("secret"))
	require.NoError(t, err)

	for _, cut := range []int{0, 1, NonceSize, len(frame) - 1} {
		_, err := cipher.Open(frame[:cut])
		require.ErrorIs(t, err, ErrAuthenticationFailed)
	}
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	require.Len(t, key, 16)

	_, err = ParseKey("0001020304")
	require.Error(t, err)

	_, err = ParseKey("not hex")
	require.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	for _, size := range KeySizes {
		one, err := DeriveKey("correct horse battery staple", size)
		require.NoError(t, err)
		require.Len(t, one, size)

		two, err := DeriveKey("correct horse battery staple", size)
		require.NoError(t, err)
		require.Equal(t, one, two)

		other, err := DeriveKey("different passphrase", size)
		require.NoError(t, err)
		require.NotEqual(t, one, other)
	}

	_, err := DeriveKey("passphrase", 17)
	require.Error(t, err)
}

func mustCipher(t *testing.T, size int) *Cipher {
	t.Helper()
	key, err := GenerateKey(size)
	require.NoError(t, err)
	cipher, err := New(key)
	require.NoError(t, err)
	return cipher
}
