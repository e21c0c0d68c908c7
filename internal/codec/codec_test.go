package codec

import (
	"encoding/json"
	"testing"

	"emcipher/internal/cryptographic/encryption"
	"emcipher/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnvelope() *model.Envelope {
	nonce := make([]byte, encryption.NonceSize)
	for i := range nonce {
		nonce[i] = byte(i)
	}
	return &model.Envelope{
		ConvID:     "demo",
		MsgID:      "m-1",
		Nonce:      nonce,
		AAD:        []byte("v=1"),
		Ciphertext: []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestRoundTrip(t *testing.T) {
	e := sampleEnvelope()

	data, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, e.Equal(got), "decode(encode(e)) must equal e")
}

func TestRoundTripEmptyBinaryFields(t *testing.T) {
	e := sampleEnvelope()
	e.AAD = []byte{}
	e.Ciphertext = []byte{}

	data, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, e.ConvID, got.ConvID)
	assert.Empty(t, got.AAD)
	assert.Empty(t, got.Ciphertext)
}

func TestWireFieldNames(t *testing.T) {
	data, err := Encode(sampleEnvelope())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, field := range []string{"conv_id", "msg_id", "nonce_b64", "aad", "ciphertext"} {
		assert.Contains(t, raw, field)
	}
	assert.Len(t, raw, 5)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(sampleEnvelope())
	require.NoError(t, err)

	mutate := func(f func(*WireEnvelope)) []byte {
		var w WireEnvelope
		require.NoError(t, json.Unmarshal(valid, &w))
		f(&w)
		data, err := json.Marshal(&w)
		require.NoError(t, err)
		return data
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("not json")},
		{"empty conv_id", mutate(func(w *WireEnvelope) { w.ConvID = "" })},
		{"empty msg_id", mutate(func(w *WireEnvelope) { w.MsgID = "" })},
		{"bad nonce base64", mutate(func(w *WireEnvelope) { w.NonceB64 = "%%%" })},
		{"short nonce", mutate(func(w *WireEnvelope) { w.NonceB64 = "AAAA" })},
		{"bad aad base64", mutate(func(w *WireEnvelope) { w.AAD = "%%%" })},
		{"bad ciphertext base64", mutate(func(w *WireEnvelope) { w.Ciphertext = "%%%" })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}
