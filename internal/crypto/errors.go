package crypto

import "errors"

var (
	// ErrKeyDerivation indicates the key derivation inputs were invalid or
	// the derivation backend failed.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrEncryption indicates the cipher could not be constructed or sealing failed.
	ErrEncryption = errors.New("encryption failed")

	// ErrIntegrity indicates authentication failed during decryption. The
	// payload was tampered with, truncated, or sealed under a different key.
	ErrIntegrity = errors.New("payload integrity check failed")
)
