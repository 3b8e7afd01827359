package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps entries in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
	keys  []string
	bytes int64
	quota int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithQuota bounds the total bytes (keys plus values) the store accepts.
func WithQuota(bytes int64) MemoryOption {
	return func(s *MemoryStore) {
		s.quota = bytes
	}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{items: make(map[string]string)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[key]
	return value, ok, nil
}

func (s *MemoryStore) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, exists := s.items[key]
	next := s.bytes + entrySize(key, value)
	if exists {
		next -= entrySize(key, previous)
	}
	if s.quota > 0 && next > s.quota {
		return ErrQuotaExceeded
	}

	if !exists {
		idx := sort.SearchStrings(s.keys, key)
		s.keys = append(s.keys, "")
		copy(s.keys[idx+1:], s.keys[idx:])
		s.keys[idx] = key
	}
	s.items[key] = value
	s.bytes = next
	return nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.items[key]
	if !ok {
		return nil
	}
	delete(s.items, key)
	s.bytes -= entrySize(key, value)

	idx := sort.SearchStrings(s.keys, key)
	if idx < len(s.keys) && s.keys[idx] == key {
		s.keys = append(s.keys[:idx], s.keys[idx+1:]...)
	}
	return nil
}

func (s *MemoryStore) Key(_ context.Context, index int) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.keys) {
		return "", false, nil
	}
	return s.keys[index], true, nil
}

func (s *MemoryStore) Length(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys), nil
}

// Size reports the bytes currently held.
func (s *MemoryStore) Size(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes, nil
}
