// Package blobstore persists audio artifacts durably and reconciles
// session-local (ephemeral) audio handles with durable storage
// references.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrExpired is returned when an ephemeral reference can no longer be
// resolved, typically because the session that produced it is gone.
var ErrExpired = errors.New("ephemeral audio reference has expired")

// ErrNotFound is returned when a durable key has no stored content.
var ErrNotFound = errors.New("blob not found")

// Store is a key → URL content store for durable audio.
type Store interface {
	// Put stores the blob under key and returns a stable URL for it.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Open returns the stored bytes for a URL previously issued by Put.
	Open(ctx context.Context, url string) ([]byte, error)
}

// FSStore keeps blobs on the local filesystem under a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

// Put writes the blob to disk and returns a file:// URL.
func (s *FSStore) Put(_ context.Context, key string, data []byte) (string, error) {
	clean := filepath.Clean("/" + key)
	path := filepath.Join(s.root, clean)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key escapes store root: %q", key)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return "file://" + path, nil
}

// Open reads back a blob from a file:// URL issued by Put.
func (s *FSStore) Open(_ context.Context, url string) ([]byte, error) {
	path, ok := strings.CutPrefix(url, "file://")
	if !ok {
		return nil, fmt.Errorf("not a filesystem blob url: %q", url)
	}
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("blob url outside store root: %q", url)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// MemoryStore keeps blobs in process memory. It backs tests and
// development setups without a durable volume.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// PutErr, when set, makes every Put fail. Tests use it to exercise
	// the best-effort upload path.
	PutErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores the blob and returns a mem:// URL.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte) (string, error) {
	if s.PutErr != nil {
		return "", s.PutErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	url := "mem://" + key
	s.blobs[url] = append([]byte(nil), data...)
	return url, nil
}

// Open returns a stored blob by its mem:// URL.
func (s *MemoryStore) Open(_ context.Context, url string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[url]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
