package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed size of the payload header: salt, PBKDF2
// iteration count, nonce, in that order.
const headerSize = SaltSize + 4 + NonceSize

// Payload is an encrypted file body together with the parameters needed to
// re-derive the data key and decrypt it later. Immutable once created.
//
// Serialized layout: salt(16) || iterations(uint32 BE) || nonce(12) ||
// ciphertext || tag. The header bytes are bound to the ciphertext as
// associated data, so tampering with any field fails authentication.
type Payload struct {
	Algorithm  string
	Salt       []byte
	Iterations uint32
	Nonce      []byte
	Ciphertext []byte // includes the 16-byte authentication tag
}

// Seal encrypts plaintext under the given data key with a fresh random
// nonce. The salt and iteration count are recorded in the payload header
// (and authenticated) but are not otherwise used here; key derivation is
// the caller's concern.
func Seal(algorithm string, key, plaintext, salt []byte, iterations int) (*Payload, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: invalid salt size: expected %d bytes, got %d", ErrEncryption, SaltSize, len(salt))
	}

	aead, err := newAEAD(algorithm, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %v", ErrEncryption, err)
	}

	p := &Payload{
		Algorithm:  algorithm,
		Salt:       salt,
		Iterations: uint32(iterations),
		Nonce:      nonce,
	}
	p.Ciphertext = aead.Seal(nil, nonce, plaintext, p.header())

	return p, nil
}

// Open verifies the authentication tag and decrypts the payload with the
// given data key. On tag mismatch no plaintext is released, not even
// partially.
func (p *Payload) Open(key []byte) ([]byte, error) {
	aead, err := newAEAD(p.Algorithm, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	plaintext, err := aead.Open(nil, p.Nonce, p.Ciphertext, p.header())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// Encode serializes the payload into the fixed on-disk layout.
func (p *Payload) Encode() []byte {
	out := make([]byte, 0, headerSize+len(p.Ciphertext))
	out = append(out, p.header()...)
	out = append(out, p.Ciphertext...)
	return out
}

// ParsePayload parses an encoded payload. The algorithm is not part of the
// layout; it defaults to AES-256-GCM and may be overridden by the caller
// from config or object metadata before Open.
func ParsePayload(data []byte) (*Payload, error) {
	if len(data) < headerSize+TagSize {
		return nil, fmt.Errorf("%w: payload too short: %d bytes", ErrIntegrity, len(data))
	}

	p := &Payload{
		Algorithm:  AlgorithmAES256GCM,
		Salt:       data[:SaltSize],
		Iterations: binary.BigEndian.Uint32(data[SaltSize : SaltSize+4]),
		Nonce:      data[SaltSize+4 : headerSize],
		Ciphertext: data[headerSize:],
	}
	return p, nil
}

// header returns the serialized header, which doubles as the associated
// data for the AEAD.
func (p *Payload) header() []byte {
	h := make([]byte, headerSize)
	copy(h, p.Salt)
	binary.BigEndian.PutUint32(h[SaltSize:], p.Iterations)
	copy(h[SaltSize+4:], p.Nonce)
	return h
}
