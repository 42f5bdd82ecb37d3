package conversation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process conversation store. It backs tests and
// single-node development setups; the postgres store is the durable
// system of record. The Update closure runs under the store lock, which
// serializes concurrent writes to the same aggregate.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

// Create registers a new conversation.
func (s *MemoryStore) Create(_ context.Context, c Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[c.ID]; ok {
		return ErrExists
	}
	clone := c.Clone()
	s.conversations[c.ID] = &clone
	return nil
}

// Get returns a deep copy of the conversation.
func (s *MemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c.Clone(), nil
}

// Update applies fn to the stored conversation under the store lock.
// When fn returns an error the conversation is left unchanged.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}

	working := c.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	s.conversations[id] = &working
	return nil
}

// ListByOwner returns the owner's conversations, most recent first.
// Archived conversations are excluded unless includeArchived is set.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string, includeArchived bool) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0)
	for _, c := range s.conversations {
		if c.OwnerID != ownerID {
			continue
		}
		if c.Status == StatusArchived && !includeArchived {
			continue
		}
		out = append(out, c.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the conversation and all its exchanges. Irreversible.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

// DeleteEmptyActive removes the owner's active conversations that have
// zero exchanges, so abandoned session starts do not accumulate.
func (s *MemoryStore) DeleteEmptyActive(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.conversations {
		if c.OwnerID == ownerID && c.Status == StatusActive && len(c.Exchanges) == 0 {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed, nil
}
