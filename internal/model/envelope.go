package model

import "bytes"

type (
	// Envelope is one encrypted message in transit. The relay treats it as
	// opaque: it can read the ids for routing but never the plaintext.
	Envelope struct {
		ConvID     string
		MsgID      string
		Nonce      []byte // 24 bytes, XChaCha20-Poly1305
		AAD        []byte // authenticated, not encrypted; UTF-8 metadata
		Ciphertext []byte
	}
)

// Equal reports whether two envelopes carry the same fields. Used by tests
// and by callers deduplicating a re-posted message.
func (e *Envelope) Equal(other *Envelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ConvID == other.ConvID &&
		e.MsgID == other.MsgID &&
		bytes.Equal(e.Nonce, other.Nonce) &&
		bytes.Equal(e.AAD, other.AAD) &&
		bytes.Equal(e.Ciphertext, other.Ciphertext)
}
