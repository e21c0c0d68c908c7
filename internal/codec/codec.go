package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"emcipher/internal/cryptographic/encryption"
	"emcipher/internal/model"
)

// ErrMalformedEnvelope is wrapped by every decode failure: bad JSON,
// missing ids, invalid base64, wrong nonce size.
var ErrMalformedEnvelope = errors.New("malformed envelope")

type (
	// WireEnvelope is the canonical JSON form of an encrypted message.
	// Field names are the wire protocol; existing clients depend on them.
	WireEnvelope struct {
		ConvID     string `json:"conv_id" bson:"conv_id"`
		MsgID      string `json:"msg_id" bson:"msg_id"`
		NonceB64   string `json:"nonce_b64" bson:"nonce_b64"`
		AAD        string `json:"aad" bson:"aad"`
		Ciphertext string `json:"ciphertext" bson:"ciphertext"`
	}
)

// EncodeWire converts a domain envelope to its wire form. Binary fields
// are standard base64 with padding.
func EncodeWire(e *model.Envelope) *WireEnvelope {
	return &WireEnvelope{
		ConvID:     e.ConvID,
		MsgID:      e.MsgID,
		NonceB64:   base64.StdEncoding.EncodeToString(e.Nonce),
		AAD:        base64.StdEncoding.EncodeToString(e.AAD),
		Ciphertext: base64.StdEncoding.EncodeToString(e.Ciphertext),
	}
}

// DecodeWire validates a wire envelope and converts it back to the domain
// form.
func DecodeWire(w *WireEnvelope) (*model.Envelope, error) {
	if w.ConvID == "" {
		return nil, fmt.Errorf("%w: empty conv_id", ErrMalformedEnvelope)
	}
	if w.MsgID == "" {
		return nil, fmt.Errorf("%w: empty msg_id", ErrMalformedEnvelope)
	}

	nonce, err := base64.StdEncoding.DecodeString(w.NonceB64)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce_b64: %v", ErrMalformedEnvelope, err)
	}
	if len(nonce) != encryption.NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrMalformedEnvelope, encryption.NonceSize, len(nonce))
	}

	aad, err := base64.StdEncoding.DecodeString(w.AAD)
	if err != nil {
		return nil, fmt.Errorf("%w: aad: %v", ErrMalformedEnvelope, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(w.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}

	return &model.Envelope{
		ConvID:     w.ConvID,
		MsgID:      w.MsgID,
		Nonce:      nonce,
		AAD:        aad,
		Ciphertext: ciphertext,
	}, nil
}

// Encode serializes a domain envelope to wire JSON.
func Encode(e *model.Envelope) ([]byte, error) {
	data, err := json.Marshal(EncodeWire(e))
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates wire JSON into a domain envelope.
func Decode(data []byte) (*model.Envelope, error) {
	var w WireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return DecodeWire(&w)
}
