package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// XChaCha20-Poly1305 sizes. The 24-byte nonce space makes random nonces
// safe per message key; keys are single-use anyway (one Seal per key).
const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
	TagSize   = chacha20poly1305.Overhead
)

var (
	// ErrAuthentication means the Poly1305 tag did not verify: tampering,
	// a wrong key, a wrong AAD, or corruption in transit. Do not retry
	// with the same inputs.
	ErrAuthentication = errors.New("message authentication failed")

	// ErrMalformedInput means a key, nonce, or ciphertext had an invalid
	// length before any cryptography ran.
	ErrMalformedInput = errors.New("malformed aead input")
)

// Seal encrypts plaintext under key, binding aad into the authentication
// tag. A fresh random 24-byte nonce is drawn per call; this is the only
// randomized operation in the protocol core.
func Seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("rand.Read nonce: %w", err)
	}

	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts ciphertext and verifies that aad matches what was sealed.
// The tag check inside chacha20poly1305 is constant-time.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrMalformedInput, NonceSize, len(nonce))
	}
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag (%d bytes)", ErrMalformedInput, len(ciphertext))
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrMalformedInput, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return aead, nil
}
