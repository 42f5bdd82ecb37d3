package blobstore

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nimaibhat/medimoji-sub000/audioref"
)

// SessionCache holds recorded and dubbed audio for the lifetime of the
// process. Entries back the ephemeral references handed out before (or
// instead of) a durable upload.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewSessionCache creates an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{entries: make(map[string][]byte)}
}

// Add stores the audio bytes and returns an ephemeral reference to them.
func (c *SessionCache) Add(data []byte) audioref.Ref {
	key := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), data...)
	return audioref.Ephemeral(key)
}

// Get returns the audio behind an ephemeral reference.
func (c *SessionCache) Get(ref audioref.Ref) ([]byte, bool) {
	if !ref.IsEphemeral() {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[ref.Value]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Remove drops an entry, releasing its memory.
func (c *SessionCache) Remove(ref audioref.Ref) {
	if !ref.IsEphemeral() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ref.Value)
}

// Len reports how many recordings the cache holds.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
