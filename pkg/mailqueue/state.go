package mailqueue

import (
	"context"
	"sync"
	"time"
)

// StateStore holds the short-lived coordination keys shared by every
// dispatcher instance: the lease, the pause flag and the failed-count cache.
// A ttl of zero means no expiry.
type StateStore interface {
	// SetNX stores value only if key is absent. It reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ErrStateNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// MemoryState is a process-local StateStore.
type MemoryState struct {
	mu    sync.Mutex
	items map[string]stateItem
	now   func() time.Time
}

type stateItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryState creates an empty in-memory state store. now may be nil.
func NewMemoryState(now func() time.Time) *MemoryState {
	if now == nil {
		now = time.Now
	}
	return &MemoryState{items: make(map[string]stateItem), now: now}
}

func (s *MemoryState) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.items[key] = s.item(value, ttl)
	return true, nil
}

func (s *MemoryState) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = s.item(value, ttl)
	return nil
}

func (s *MemoryState) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok {
		return "", ErrStateNotFound
	}
	return it.value, nil
}

func (s *MemoryState) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func (s *MemoryState) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok || it.value != value {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// lookup must be called with mu held. Expired keys are evicted.
func (s *MemoryState) lookup(key string) (stateItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return stateItem{}, false
	}
	if !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return stateItem{}, false
	}
	return it, true
}

func (s *MemoryState) item(value string, ttl time.Duration) stateItem {
	it := stateItem{value: value}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	return it
}
