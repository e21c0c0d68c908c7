package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"emcipher/internal/cryptographic/encryption"
	"emcipher/internal/cryptographic/kdf"
	"emcipher/internal/mailbox"
	"emcipher/internal/model"
	"emcipher/internal/service/relay"
	"emcipher/internal/service/relayclient"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelayClient(t *testing.T) *relayclient.Client {
	t.Helper()
	ts := httptest.NewServer(relay.NewServer(mailbox.NewMemoryStore()).Router())
	t.Cleanup(ts.Close)
	return relayclient.New(strings.TrimPrefix(ts.URL, "http://"))
}

func demoParams() model.ConversationParams {
	return model.ConversationParams{
		ConvID:  "demo",
		Salt:    make([]byte, model.SaltSize), // 16 zero bytes
		Profile: model.ProfileDesktop,
	}
}

// The full flow, step by step: sender derives KM and K_msg, seals "hi" and
// posts it; the receiver independently rederives the same keys from the
// shared seed and public parameters, fetches, opens, and acknowledges.
func TestEndToEndScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("desktop argon2id profile is memory-heavy")
	}

	ctx := context.Background()
	client := newTestRelayClient(t)
	params := demoParams()

	const (
		seed    = "correct horse battery staple"
		counter = uint64(1)
	)

	// sender side
	km, err := kdf.DeriveMasterKey(seed, params.ConvID, params.Salt, params.Profile)
	require.NoError(t, err)

	kmsg, err := kdf.DeriveMessageKey(km, counter)
	require.NoError(t, err)

	aad := []byte("v=1")
	nonce, ciphertext, err := encryption.Seal(kmsg, []byte("hi"), aad)
	require.NoError(t, err)

	env := &model.Envelope{
		ConvID:     params.ConvID,
		MsgID:      uuid.NewString(),
		Nonce:      nonce,
		AAD:        aad,
		Ciphertext: ciphertext,
	}
	require.NoError(t, client.Post(ctx, env))

	// receiver side: independent rederivation, nothing reused from above
	kmRecv, err := kdf.DeriveMasterKey(seed, params.ConvID, params.Salt, params.Profile)
	require.NoError(t, err)
	assert.Equal(t, km, kmRecv)

	pending, err := client.List(ctx, params.ConvID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, env.MsgID, pending[0].MsgID)

	kmsgRecv, err := kdf.DeriveMessageKey(kmRecv, counter)
	require.NoError(t, err)

	plaintext, err := encryption.Open(kmsgRecv, pending[0].Nonce, pending[0].Ciphertext, pending[0].AAD)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(plaintext))

	require.NoError(t, client.Ack(ctx, params.ConvID, env.MsgID))

	after, err := client.List(ctx, params.ConvID)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestTwoPartySessions(t *testing.T) {
	ctx := context.Background()
	client := newTestRelayClient(t)
	params := demoParams()
	params.Profile = model.ProfileMobile

	const seed = "correct horse battery staple"

	alice, err := Open(seed, params, client, 0)
	require.NoError(t, err)
	bob, err := Open(seed, params, client, 0)
	require.NoError(t, err)

	msgID, err := alice.Send(ctx, "hi bob")
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)
	assert.Equal(t, uint64(1), alice.Counter())

	got, err := bob.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msgID, got[0].MsgID)
	assert.Equal(t, uint64(1), got[0].Counter)
	assert.Equal(t, "hi bob", got[0].Plaintext)

	// consumed: nothing pending for either side
	again, err := bob.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	own, err := alice.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, own, "a session must not consume its own messages")
}

func TestSessionSkipsOwnPendingMessages(t *testing.T) {
	ctx := context.Background()
	client := newTestRelayClient(t)
	params := demoParams()
	params.Profile = model.ProfileMobile

	alice, err := Open("seed phrase", params, client, 0)
	require.NoError(t, err)

	_, err = alice.Send(ctx, "unread")
	require.NoError(t, err)

	got, err := alice.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// the message is still pending on the relay for the peer, and a
	// direct decrypt (the watch-stream path) opens it without consuming
	pending, err := client.List(ctx, params.ConvID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	msg, err := alice.Decrypt(pending[0])
	require.NoError(t, err)
	assert.Equal(t, "unread", msg.Plaintext)
}

func TestWrongSeedFailsAuthentication(t *testing.T) {
	ctx := context.Background()
	client := newTestRelayClient(t)
	params := demoParams()
	params.Profile = model.ProfileMobile

	alice, err := Open("right seed", params, client, 0)
	require.NoError(t, err)
	mallory, err := Open("wrong seed", params, client, 0)
	require.NoError(t, err)

	_, err = alice.Send(ctx, "secret")
	require.NoError(t, err)

	got, err := mallory.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "a mismatched seed must never decrypt")

	// the failed attempt must not consume the envelope
	pending, err := client.List(ctx, params.ConvID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCounterResumes(t *testing.T) {
	ctx := context.Background()
	client := newTestRelayClient(t)
	params := demoParams()
	params.Profile = model.ProfileMobile

	alice, err := Open("seed phrase", params, client, 41)
	require.NoError(t, err)

	_, err = alice.Send(ctx, "one more")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), alice.Counter())
}

func TestClosedSessionRejectsUse(t *testing.T) {
	ctx := context.Background()
	client := newTestRelayClient(t)
	params := demoParams()
	params.Profile = model.ProfileMobile

	alice, err := Open("seed phrase", params, client, 0)
	require.NoError(t, err)

	_, err = alice.Send(ctx, "before close")
	require.NoError(t, err)

	alice.Close()

	_, err = alice.Send(ctx, "after close")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = alice.Fetch(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAADCodec(t *testing.T) {
	counter, err := decodeAAD(encodeAAD(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), counter)

	for _, bad := range []string{"", "v=1", "v=2;ctr=1", "v=1;ctr=", "v=1;ctr=x", "v=1;n=1"} {
		_, err := decodeAAD([]byte(bad))
		assert.Error(t, err, "aad %q", bad)
	}
}
