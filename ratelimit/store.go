package ratelimit

import (
	"context"
	"sync"
	"time"
)

// UpdateFunc receives the current entry (ok is false when absent) and returns
// the entry to persist. When write is false nothing is stored. Stores may call
// it more than once per Update, so it must not have side effects beyond the
// values it returns and the decision it captures.
type UpdateFunc func(cur Entry, ok bool) (next Entry, write bool)

// Store persists attempt entries.
type Store interface {
	Update(ctx context.Context, class Class, key string, fn UpdateFunc) error
	Delete(ctx context.Context, class Class, key string) error
	// Sweep removes entries whose LastAttempt is before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Class]map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	entries := make(map[Class]map[string]Entry, len(Classes))
	for _, c := range Classes {
		entries[c] = make(map[string]Entry)
	}
	return &MemoryStore{entries: entries}
}

func (s *MemoryStore) Update(_ context.Context, class Class, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.table(class)
	cur, ok := table[key]
	next, write := fn(cur, ok)
	if write {
		table[key] = next
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, class Class, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.table(class), key)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, table := range s.entries {
		for key, e := range table {
			if e.LastAttempt.Before(cutoff) {
				delete(table, key)
				removed++
			}
		}
	}
	return removed, nil
}

// Len reports how many entries class currently holds.
func (s *MemoryStore) Len(class Class) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[class])
}

// Get returns a copy of the stored entry.
func (s *MemoryStore) Get(class Class, key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[class][key]
	return e, ok
}

func (s *MemoryStore) table(class Class) map[string]Entry {
	t, ok := s.entries[class]
	if !ok {
		t = make(map[string]Entry)
		s.entries[class] = t
	}
	return t
}
