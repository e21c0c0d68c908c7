package mailbox

import (
	"context"
	"sync"

	"emcipher/internal/model"
)

type (
	// MemoryStore keeps all pending envelopes in process memory. This is
	// the default relay backend: deliberately stateless across restarts.
	MemoryStore struct {
		mu    sync.Mutex
		convs map[string]*conversation
	}

	// conversation owns one queue and the lock serializing access to it.
	// Created lazily on first append, dropped once the queue empties.
	conversation struct {
		mu      sync.Mutex
		pending []*model.Envelope
		dead    bool // dropped from the map; do not use
	}
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*conversation),
	}
}

func (s *MemoryStore) conv(convID string, create bool) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[convID]
	if c == nil && create {
		c = &conversation{}
		s.convs[convID] = c
	}
	return c
}

func (s *MemoryStore) Append(_ context.Context, convID string, env *model.Envelope) error {
	for {
		c := s.conv(convID, true)
		c.mu.Lock()
		if c.dead {
			// lost a race with the drop of an emptied queue; a fresh
			// entry is in (or about to leave) the map
			c.mu.Unlock()
			continue
		}
		c.pending = append(c.pending, env)
		c.mu.Unlock()
		return nil
	}
}

func (s *MemoryStore) List(_ context.Context, convID string) ([]*model.Envelope, error) {
	c := s.conv(convID, false)
	if c == nil {
		return []*model.Envelope{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]*model.Envelope, len(c.pending))
	copy(snapshot, c.pending)
	return snapshot, nil
}

func (s *MemoryStore) Acknowledge(_ context.Context, convID, msgID string) error {
	c := s.conv(convID, false)
	if c == nil {
		return ErrNotFound
	}

	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return ErrNotFound
	}

	idx := -1
	for i, env := range c.pending {
		if env.MsgID == msgID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return ErrNotFound
	}

	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	if len(c.pending) > 0 {
		c.mu.Unlock()
		return nil
	}

	// queue emptied: mark the entry dead and drop it so idle
	// conversations do not accumulate
	c.dead = true
	c.mu.Unlock()

	s.mu.Lock()
	if s.convs[convID] == c {
		delete(s.convs, convID)
	}
	s.mu.Unlock()
	return nil
}
