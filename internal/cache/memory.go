package cache

import (
	"context"
	"sync"
)

// ---------------------------------------------------------------------------
// In-memory store (tests and development)
// ---------------------------------------------------------------------------

// MemoryStore is a map-backed Store with the same per-key last-writer-wins
// semantics as the redis implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]CachedTokenRecord
	closed  bool

	failNext error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]CachedTokenRecord)}
}

// FailNext makes the next store call return err. Test hook.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, address string) (*CachedTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	rec, ok := s.records[Key(address)]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, record *CachedTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if s.closed {
		return ErrCache
	}
	s.records[Key(record.Address)] = *record
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return false, err
	}
	_, ok := s.records[Key(address)]
	return ok, nil
}

// ListKeys implements Store.
func (s *MemoryStore) ListKeys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(s.records))
	for key := range s.records {
		out = append(out, AddressFromKey(key))
	}
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrCache
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored records. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
