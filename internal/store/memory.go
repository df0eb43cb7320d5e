package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	counter   int64
	data      []byte
	version   int64
	presence  map[string]time.Time // member -> expiry
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements Store inside one process. Expired keys are dropped
// lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(key string) (*memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.counter++
	return e.counter, nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = &memoryEntry{data: []byte("1"), expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.version == 0 {
		return nil, 0, ErrNotFound
	}
	return slices.Clone(e.data), e.version, nil
}

func (s *MemoryStore) CompareAndSet(_ context.Context, key string, expected int64, value []byte, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	e, ok := s.lookup(key)
	if ok {
		current = e.version
	}
	if current != expected {
		return 0, ErrVersionConflict
	}
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.version++
	e.data = slices.Clone(value)
	e.expiresAt = s.expiry(ttl)
	return e.version, nil
}

// livePresence prunes expired members of key and returns the entry, or nil
// when nothing is left. Must be called with mu held.
func (s *MemoryStore) livePresence(key string) *memoryEntry {
	e, ok := s.lookup(key)
	if !ok || e.presence == nil {
		return nil
	}
	now := s.now()
	for member, expiresAt := range e.presence {
		if !now.Before(expiresAt) {
			delete(e.presence, member)
		}
	}
	if len(e.presence) == 0 {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) PresenceAdd(_ context.Context, key, member string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.livePresence(key)
	if e == nil {
		e = &memoryEntry{presence: make(map[string]time.Time)}
		s.entries[key] = e
	}
	e.presence[member] = s.now().Add(presenceTTL(ttl))
	return int64(len(e.presence)), nil
}

func (s *MemoryStore) PresenceRemove(_ context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.livePresence(key)
	if e == nil {
		return 0, nil
	}
	delete(e.presence, member)
	if len(e.presence) == 0 {
		delete(s.entries, key)
	}
	return int64(len(e.presence)), nil
}

func (s *MemoryStore) PresenceTouch(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.livePresence(key); e != nil {
		if _, ok := e.presence[member]; ok {
			e.presence[member] = s.now().Add(presenceTTL(ttl))
		}
	}
	return nil
}

func (s *MemoryStore) PresenceCount(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.livePresence(key); e != nil {
		return int64(len(e.presence)), nil
	}
	return 0, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
