package storage

import (
	"context"
	"strings"
	"sync"
)

type memoryStore struct {
	quota int64

	mu      sync.RWMutex
	entries map[string][]byte
	used    int64
}

// NewMemory returns a process-local store. A positive quota caps the total
// bytes of keys plus values; writes beyond it fail with ErrQuotaExceeded.
func NewMemory(quotaBytes int64) Store {
	return &memoryStore{quota: quotaBytes, entries: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(value), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.used + entrySize(key, value)
	if old, ok := s.entries[key]; ok {
		used -= entrySize(key, old)
	}
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}
	s.entries[key] = cloneBytes(value)
	s.used = used
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[key]; ok {
		s.used -= entrySize(key, old)
		delete(s.entries, key)
	}
	return nil
}

func (s *memoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
