package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"emcipher/internal/cryptographic/encryption"
	"emcipher/internal/cryptographic/kdf"
	"emcipher/internal/mailbox"
	"emcipher/internal/model"
	"emcipher/internal/service/relayclient"
	"emcipher/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by Send and Fetch after Close has wiped the keys.
var ErrClosed = errors.New("session closed")

// aadVersion tags every envelope this session produces. The counter rides
// in the AAD so the receiver can rederive the message key; being AAD, a
// forged counter fails authentication instead of decrypting garbage.
const aadVersion = 1

type (
	// Session binds the key hierarchy to one conversation and one relay.
	// It owns the sender's message counter; each counter value keys at
	// most one encryption.
	Session struct {
		params model.ConversationParams
		relay  *relayclient.Client

		mu      sync.Mutex
		km      []byte
		counter uint64
		sent    map[string]struct{} // msg_ids we produced, skipped on fetch
	}

	// Received is one decrypted incoming message.
	Received struct {
		MsgID     string
		Counter   uint64
		Plaintext string
	}
)

// Open derives the conversation master key and returns a ready session.
// Argon2id makes this an expensive call; run it off the UI path. The
// counter resumes from lastCounter — persisting the last used value between
// runs is the caller's job, and skipping ahead is always safe while reuse
// never is.
func Open(seed string, params model.ConversationParams, relay *relayclient.Client, lastCounter uint64) (*Session, error) {
	km, err := kdf.DeriveMasterKey(seed, params.ConvID, params.Salt, params.Profile)
	if err != nil {
		return nil, err
	}

	return &Session{
		params:  params,
		relay:   relay,
		km:      km,
		counter: lastCounter,
		sent:    make(map[string]struct{}),
	}, nil
}

// Counter returns the last used counter value, for the caller to persist.
func (s *Session) Counter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Send encrypts plaintext under the next counter's message key and posts
// the envelope. Returns the msg_id assigned to the message.
func (s *Session) Send(ctx context.Context, plaintext string) (string, error) {
	s.mu.Lock()
	s.counter++
	counter := s.counter
	s.mu.Unlock()

	env, err := s.seal(counter, plaintext)
	if err != nil {
		return "", err
	}

	if err := s.relay.Post(ctx, env); err != nil {
		return "", fmt.Errorf("post envelope: %w", err)
	}

	s.mu.Lock()
	s.sent[env.MsgID] = struct{}{}
	s.mu.Unlock()
	return env.MsgID, nil
}

// masterKey copies KM under the lock so a racing Close cannot zero it
// mid-derivation. Callers wipe the copy when done.
func (s *Session) masterKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.km == nil {
		return nil, ErrClosed
	}
	km := make([]byte, len(s.km))
	copy(km, s.km)
	return km, nil
}

func (s *Session) seal(counter uint64, plaintext string) (*model.Envelope, error) {
	km, err := s.masterKey()
	if err != nil {
		return nil, err
	}
	defer zero(km)

	key, err := kdf.DeriveMessageKey(km, counter)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	aad := encodeAAD(counter)
	nonce, ciphertext, err := encryption.Seal(key, []byte(plaintext), aad)
	if err != nil {
		return nil, err
	}

	return &model.Envelope{
		ConvID:     s.params.ConvID,
		MsgID:      uuid.NewString(),
		Nonce:      nonce,
		AAD:        aad,
		Ciphertext: ciphertext,
	}, nil
}

// Fetch polls the mailbox, decrypts every envelope addressed to us, and
// acknowledges the ones that authenticated. Our own unconsumed messages are
// left alone. A single bad envelope is logged and skipped; it never stops
// the batch or touches other mailbox state.
func (s *Session) Fetch(ctx context.Context) ([]Received, error) {
	s.mu.Lock()
	closed := s.km == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	envs, err := s.relay.List(ctx, s.params.ConvID)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}

	var received []Received
	for _, env := range envs {
		if s.isOwn(env.MsgID) {
			continue
		}

		msg, err := s.open(env)
		if err != nil {
			log.Warn("discarding envelope",
				zap.String("conv_id", env.ConvID),
				zap.String("msg_id", env.MsgID),
				zap.Error(err))
			continue
		}

		if err := s.relay.Ack(ctx, env.ConvID, env.MsgID); err != nil {
			if errors.Is(err, mailbox.ErrNotFound) {
				// another device of ours consumed it first
				continue
			}
			return received, fmt.Errorf("ack %s: %w", env.MsgID, err)
		}
		received = append(received, *msg)
	}
	return received, nil
}

// Decrypt opens a single envelope without acknowledging it. Used by callers
// that receive envelopes over the watch stream and ack separately.
func (s *Session) Decrypt(env *model.Envelope) (*Received, error) {
	return s.open(env)
}

func (s *Session) open(env *model.Envelope) (*Received, error) {
	counter, err := decodeAAD(env.AAD)
	if err != nil {
		return nil, err
	}

	km, err := s.masterKey()
	if err != nil {
		return nil, err
	}
	defer zero(km)

	key, err := kdf.DeriveMessageKey(km, counter)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	plaintext, err := encryption.Open(key, env.Nonce, env.Ciphertext, env.AAD)
	if err != nil {
		return nil, err
	}

	return &Received{
		MsgID:     env.MsgID,
		Counter:   counter,
		Plaintext: string(plaintext),
	}, nil
}

func (s *Session) isOwn(msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[msgID]
	return ok
}

// Close wipes the master key. The session is unusable afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.km)
	s.km = nil
}

func encodeAAD(counter uint64) []byte {
	return []byte(fmt.Sprintf("v=%d;ctr=%d", aadVersion, counter))
}

func decodeAAD(aad []byte) (uint64, error) {
	fields := strings.Split(string(aad), ";")
	if len(fields) != 2 || fields[0] != fmt.Sprintf("v=%d", aadVersion) {
		return 0, fmt.Errorf("%w: unsupported aad %q", encryption.ErrMalformedInput, aad)
	}

	raw, ok := strings.CutPrefix(fields[1], "ctr=")
	if !ok {
		return 0, fmt.Errorf("%w: missing counter in aad %q", encryption.ErrMalformedInput, aad)
	}

	counter, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad counter in aad %q", encryption.ErrMalformedInput, aad)
	}
	return counter, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
