package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the random salt generated per file.
	SaltSize = 16 // 128 bits
	// KeySize is the size of the derived data key.
	KeySize = 32 // 256 bits
	// MinIterations is the lowest PBKDF2 iteration count accepted for new
	// derivations. The count travels with the ciphertext, so it can be
	// raised later without breaking old artifacts.
	MinIterations = 100000
	// DefaultIterations is the iteration count used when none is configured.
	DefaultIterations = 100000
)

// DeriveKey derives a 256-bit data key from a password and salt using
// PBKDF2 with HMAC-SHA-256.
//
// The same (password, salt, iterations) triple always yields the same key;
// decryption relies on re-deriving offline from the parameters stored in
// the payload header. The caller owns the returned key and must Wipe it.
func DeriveKey(password, salt []byte, iterations int) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", ErrKeyDerivation)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: invalid salt size: expected %d bytes, got %d", ErrKeyDerivation, SaltSize, len(salt))
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: iteration count %d below minimum %d", ErrKeyDerivation, iterations, MinIterations)
	}

	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New), nil
}

// GenerateSalt generates a cryptographically secure random salt.
// A salt is never reused across files; every pipeline run calls this.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: failed to generate salt: %v", ErrKeyDerivation, err)
	}
	return salt, nil
}

// Wipe overwrites a byte slice with zeros for secure memory cleanup.
// Used on data keys and passwords on every exit path.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
