// Package mailbox holds pending envelopes per conversation for the relay.
// Stores are content-blind: they see routing ids and opaque wire bytes,
// never key material, and cannot decrypt anything they hold.
package mailbox

import (
	"context"
	"errors"

	"emcipher/internal/model"
)

// ErrNotFound is returned by Acknowledge when no pending envelope matches
// the msg_id — either it never existed or it was already consumed. A second
// acknowledge of the same envelope always reports this, never success.
var ErrNotFound = errors.New("envelope not found")

// Store is the relay's per-conversation queue of pending envelopes.
//
// Append and Acknowledge on the same conversation are serialized by every
// implementation; no cross-conversation ordering is promised. List returns
// a consistent snapshot in insertion order, but appends racing a poll may
// only become visible on the next poll.
type Store interface {
	// Append adds the envelope to the tail of the conversation's queue,
	// creating the queue if absent. The store never validates contents;
	// idempotency is the caller's job via unique msg_ids.
	Append(ctx context.Context, convID string, env *model.Envelope) error

	// List returns the pending envelopes in insertion order. Unknown
	// conversations yield an empty slice, never an error.
	List(ctx context.Context, convID string) ([]*model.Envelope, error)

	// Acknowledge atomically removes the first pending envelope with the
	// given msg_id. Succeeds exactly once per envelope; later calls for
	// the same id return ErrNotFound.
	Acknowledge(ctx context.Context, convID, msgID string) error
}
