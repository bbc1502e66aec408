// Package crypto provides the authenticated encryption used for all
// inter-node traffic.
//
// Every frame that crosses the wire is sealed with AES-GCM under a shared
// symmetric key. The key length selects the cipher strength:
//
//   - 16 bytes: AES-128-GCM
//   - 24 bytes: AES-192-GCM
//   - 32 bytes: AES-256-GCM
//
// A fresh random 12-byte nonce is generated per frame and transmitted in
// front of the ciphertext. Open fails closed: a truncated frame, a wrong key
// or a flipped bit always yields ErrAuthenticationFailed, never partial
// plaintext.
//
// The package also provides key loading helpers for operators: ParseKey for
// hex-encoded keys and DeriveKey for deriving a key of a chosen size from a
// passphrase via HKDF-SHA3.
package crypto
