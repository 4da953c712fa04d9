package learning

import (
	"context"
	"sync"
)

// MemoryStore keeps learned statistics in process memory only.
type MemoryStore struct {
	mu    sync.Mutex
	stats map[string]Stats
	saves int
}

// NewMemoryStore creates an in-memory backend seeded with initial.
func NewMemoryStore(initial map[string]Stats) *MemoryStore {
	return &MemoryStore{stats: clone(initial)}
}

func (m *MemoryStore) Load(ctx context.Context) (map[string]Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.stats), nil
}

func (m *MemoryStore) Save(ctx context.Context, stats map[string]Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = clone(stats)
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }

func clone(in map[string]Stats) map[string]Stats {
	out := make(map[string]Stats, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
