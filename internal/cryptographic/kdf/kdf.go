package kdf

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"emcipher/internal/model"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of every key in the hierarchy (KM and K_msg).
const KeySize = 32

// ErrKeyDerivation is wrapped by every malformed-input failure in this
// package. Derivation never partially succeeds.
var ErrKeyDerivation = errors.New("key derivation failed")

// argonParams are the Argon2id costs for one device profile. The costs are
// part of the protocol: a mismatch between participants silently yields
// different master keys and every message fails authentication.
type argonParams struct {
	memoryKiB uint32
	time      uint32
	threads   uint8
}

var profileParams = map[model.Profile]argonParams{
	model.ProfileDesktop: {memoryKiB: 256 * 1024, time: 3, threads: 1},
	model.ProfileMobile:  {memoryKiB: 64 * 1024, time: 4, threads: 1},
}

// DeriveMasterKey derives the 32-byte conversation master key KM from the
// user's seed and the public conversation parameters. Deterministic: both
// participants run this independently and obtain the same key. Argon2id is
// intentionally expensive; callers should keep it off latency-critical paths.
func DeriveMasterKey(seed string, convID string, salt []byte, profile model.Profile) ([]byte, error) {
	if seed == "" {
		return nil, fmt.Errorf("%w: empty seed", ErrKeyDerivation)
	}
	if convID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", ErrKeyDerivation)
	}
	if len(salt) != model.SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrKeyDerivation, model.SaltSize, len(salt))
	}
	params, ok := profileParams[profile]
	if !ok {
		return nil, fmt.Errorf("%w: unknown profile %q", ErrKeyDerivation, profile)
	}

	ikm := argon2.IDKey([]byte(seed), salt, params.time, params.memoryKiB, params.threads, KeySize)

	// convID and profile are domain-separation context, not salt: the same
	// seed+salt in two conversations or device classes must never share KM.
	info := []byte("emcipher:km:" + convID + ":" + string(profile))
	km := make([]byte, KeySize)
	if _, err := HKDF(ikm, nil, info, km); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return km, nil
}

const msgKeyLabel = "emcipher:kmsg:"

// DeriveMessageKey derives the single-use 32-byte message key from KM and
// the sender's message counter. Pure function: no randomness, no state. The
// caller must never reuse a counter under the same KM for encryption.
func DeriveMessageKey(km []byte, counter uint64) ([]byte, error) {
	if len(km) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrKeyDerivation, KeySize, len(km))
	}

	info := make([]byte, 0, len(msgKeyLabel)+8)
	info = append(info, msgKeyLabel...)
	info = binary.BigEndian.AppendUint64(info, counter)

	key := make([]byte, KeySize)
	if _, err := HKDF(km, nil, info, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return key, nil
}

// HKDF fills buffer with HKDF-SHA256 output for secret/salt/info.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}
