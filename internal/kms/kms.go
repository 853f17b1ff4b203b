package kms

import (
	"context"
	"errors"
)

// ErrKeyWrap indicates the KMS was unreachable, denied the request, or
// returned a malformed response. A failed wrap aborts the pipeline; the raw
// data key is never persisted as a fallback.
var ErrKeyWrap = errors.New("key wrap failed")

// Wrapper abstracts an external Key Management Service that wraps and
// unwraps per-file data encryption keys.
//
// Implementations must never expose plaintext master keys; all
// cryptographic operations happen inside the KMS. The caller owns the raw
// key and must discard it as soon as Wrap returns.
type Wrapper interface {
	// Provider returns a short identifier (e.g. "aws-kms") used for
	// diagnostics and object metadata.
	Provider() string

	// Wrap encrypts the plaintext data key under the master key named by
	// keyID and returns an envelope safe to persist in cleartext context.
	Wrap(ctx context.Context, plaintext []byte, keyID string) (*WrappedKey, error)

	// Unwrap decrypts the ciphertext in the envelope and returns the
	// plaintext data key.
	Unwrap(ctx context.Context, wrapped *WrappedKey) ([]byte, error)

	// Close releases any underlying resources.
	Close(ctx context.Context) error
}

// WrappedKey is a data key encrypted under a KMS master key, together with
// the identifier of the key that wrapped it. Only this form ever crosses a
// trust boundary.
type WrappedKey struct {
	KeyID      string
	Provider   string
	Ciphertext []byte
}
