package storage

import (
	"sort"
	"sync"

	"github.com/san-kum/propsim/internal/surrogate"
)

// MemoryStore is a Repository for tests and one-shot runs.
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[string]*surrogate.Bundle
	meta    map[string]BundleMetadata
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles: make(map[string]*surrogate.Bundle),
		meta:    make(map[string]BundleMetadata),
	}
}

func (s *MemoryStore) Load(id string) (*surrogate.Bundle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	return b, ok, nil
}

func (s *MemoryStore) Save(id string, b *surrogate.Bundle) error {
	meta := metadataOf(b)
	meta.ID = id
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[id] = b
	s.meta[id] = meta
	return nil
}

func (s *MemoryStore) List() ([]BundleMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BundleMetadata, 0, len(s.meta))
	for _, m := range s.meta {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
