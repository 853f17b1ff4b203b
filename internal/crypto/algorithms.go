package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AlgorithmAES256GCM is the default AES-256-GCM algorithm.
	AlgorithmAES256GCM = "AES256-GCM"
	// AlgorithmChaCha20Poly1305 is the ChaCha20-Poly1305 algorithm.
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"

	// NonceSize is the nonce size shared by both supported AEADs.
	NonceSize = 12 // 96 bits
	// TagSize is the authentication tag size shared by both supported AEADs.
	TagSize = 16 // 128 bits
)

// IsAlgorithmSupported reports whether the named algorithm is one this
// package can seal and open.
func IsAlgorithmSupported(algorithm string) bool {
	return algorithm == AlgorithmAES256GCM || algorithm == AlgorithmChaCha20Poly1305
}

// newAEAD creates an AEAD cipher for the given algorithm and key.
func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}

	switch algorithm {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}
