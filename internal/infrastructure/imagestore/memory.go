package imagestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is a bounded in-process store with LRU eviction and an optional TTL.
type MemoryStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryStore creates a store holding at most maxEntries values.
// A zero ttl keeps entries until they are evicted by size.
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
	}
}

// Get returns the stored bytes for key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return data, nil
}

// Set stores data under key, evicting the least recently used entry when full.
func (s *MemoryStore) Set(_ context.Context, key string, data []byte) error {
	s.lru.Add(key, data)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
