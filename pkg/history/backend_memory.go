package history

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryBackend keeps session logs in process memory. It mirrors the list
// semantics of the Redis backend and is used for local runs and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	lists map[string][]string
	// next is the sequence number of the next pushed entry per key.
	next map[string]int64
}

var _ Backend = &MemoryBackend{}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{lists: map[string][]string{}, next: map[string]int64{}}
}

func (m *MemoryBackend) Range(_ context.Context, key string, limit int) ([]string, int64, error) {
	if m == nil {
		return nil, 0, errors.New("in-memory history: nil backend")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	next := m.next[key]
	if limit <= 0 {
		return []string{}, next, nil
	}
	start := len(list) - limit
	if start < 0 {
		start = 0
	}
	out := make([]string, len(list)-start)
	copy(out, list[start:])
	return out, next - int64(len(out)), nil
}

func (m *MemoryBackend) Push(_ context.Context, key string, entries ...string) error {
	if m == nil {
		return errors.New("in-memory history: nil backend")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], entries...)
	m.next[key] += int64(len(entries))
	return nil
}

func (m *MemoryBackend) Trim(_ context.Context, key string, limit int) error {
	if m == nil {
		return errors.New("in-memory history: nil backend")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[key]
	if !ok || len(list) <= limit {
		return nil
	}
	if limit <= 0 {
		delete(m.lists, key)
		return nil
	}
	kept := make([]string, limit)
	copy(kept, list[len(list)-limit:])
	m.lists[key] = kept
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	if m == nil {
		return errors.New("in-memory history: nil backend")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, key)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
