package mailbox

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"emcipher/internal/cryptographic/encryption"
	"emcipher/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(convID, msgID string) *model.Envelope {
	return &model.Envelope{
		ConvID:     convID,
		MsgID:      msgID,
		Nonce:      make([]byte, encryption.NonceSize),
		AAD:        []byte("v=1"),
		Ciphertext: []byte(msgID),
	}
}

// exerciseStore is the behavioural contract every Store backend must satisfy.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("list unknown conversation", func(t *testing.T) {
		envs, err := store.List(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, envs)
	})

	t.Run("append then list in order", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Append(ctx, "order", testEnvelope("order", fmt.Sprintf("m-%d", i))))
		}

		envs, err := store.List(ctx, "order")
		require.NoError(t, err)
		require.Len(t, envs, 3)
		for i, env := range envs {
			assert.Equal(t, fmt.Sprintf("m-%d", i), env.MsgID)
		}

		for i := 0; i < 3; i++ {
			require.NoError(t, store.Acknowledge(ctx, "order", fmt.Sprintf("m-%d", i)))
		}
	})

	t.Run("acknowledge exactly once", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, "once", testEnvelope("once", "m-1")))
		require.NoError(t, store.Acknowledge(ctx, "once", "m-1"))

		err := store.Acknowledge(ctx, "once", "m-1")
		assert.ErrorIs(t, err, ErrNotFound)

		envs, err := store.List(ctx, "once")
		require.NoError(t, err)
		assert.Empty(t, envs, "acknowledged envelope must not be listed")
	})

	t.Run("acknowledge unknown id", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, "partial", testEnvelope("partial", "m-1")))
		assert.ErrorIs(t, store.Acknowledge(ctx, "partial", "m-2"), ErrNotFound)

		// the miss must not disturb the pending envelope
		envs, err := store.List(ctx, "partial")
		require.NoError(t, err)
		require.Len(t, envs, 1)
		require.NoError(t, store.Acknowledge(ctx, "partial", "m-1"))
	})

	t.Run("conversation isolation", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, "conv-a", testEnvelope("conv-a", "m-a")))
		require.NoError(t, store.Append(ctx, "conv-b", testEnvelope("conv-b", "m-b")))

		assert.ErrorIs(t, store.Acknowledge(ctx, "conv-a", "m-b"), ErrNotFound)

		envs, err := store.List(ctx, "conv-b")
		require.NoError(t, err)
		require.Len(t, envs, 1)
		assert.Equal(t, "m-b", envs[0].MsgID)

		require.NoError(t, store.Acknowledge(ctx, "conv-a", "m-a"))
		require.NoError(t, store.Acknowledge(ctx, "conv-b", "m-b"))
	})
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreConcurrentAppendAck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msgID := fmt.Sprintf("m-%d", i)
			if err := store.Append(ctx, "busy", testEnvelope("busy", msgID)); err != nil {
				t.Error(err)
				return
			}
			if err := store.Acknowledge(ctx, "busy", msgID); err != nil {
				t.Errorf("ack %s: %v", msgID, err)
			}
		}(i)
	}
	wg.Wait()

	envs, err := store.List(ctx, "busy")
	require.NoError(t, err)
	assert.Empty(t, envs, "every appended envelope was acknowledged")
}

func TestMemoryStoreConcurrentAcksOnDistinctIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, store.Append(ctx, "race", testEnvelope("race", fmt.Sprintf("m-%d", i))))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Acknowledge(ctx, "race", fmt.Sprintf("m-%d", i)); err != nil {
				t.Errorf("ack m-%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	envs, err := store.List(ctx, "race")
	require.NoError(t, err)
	assert.Empty(t, envs, "no ack may be lost when distinct ids race")
}

func TestMemoryStoreDropsEmptyConversations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "gc", testEnvelope("gc", "m-1")))
	require.NoError(t, store.Acknowledge(ctx, "gc", "m-1"))

	store.mu.Lock()
	_, exists := store.convs["gc"]
	store.mu.Unlock()
	assert.False(t, exists, "emptied conversation entry should be dropped")

	// and the conversation is usable again afterwards
	require.NoError(t, store.Append(ctx, "gc", testEnvelope("gc", "m-2")))
	envs, err := store.List(ctx, "gc")
	require.NoError(t, err)
	require.Len(t, envs, 1)
}
