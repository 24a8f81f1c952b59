package mailqueue

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// MemoryStorage implements Repository for tests and local development.
type MemoryStorage struct {
	mu       sync.RWMutex
	messages map[int64]*Message
	nextID   int64
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{messages: make(map[int64]*Message)}
}

// Insert implements Repository.
func (ms *MemoryStorage) Insert(ctx context.Context, msg *Message) (int64, error) {
	if msg == nil {
		return 0, errors.New("message cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.nextID++
	c := msg.Clone()
	c.ID = ms.nextID
	if c.Status == "" {
		c.Status = StatusPending
	}
	ms.messages[c.ID] = c
	return c.ID, nil
}

// Get implements Repository.
func (ms *MemoryStorage) Get(ctx context.Context, id int64) (*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	m, ok := ms.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return m.Clone(), nil
}

// ListDue implements Repository.
func (ms *MemoryStorage) ListDue(ctx context.Context, opts ListOptions) ([]*Message, error) {
	out := ms.filter(opts)
	slices.SortFunc(out, func(a, b *Message) int {
		if c := a.NextAttempt.Compare(b.NextAttempt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return limit(out, opts.Limit), nil
}

// List implements Repository.
func (ms *MemoryStorage) List(ctx context.Context, opts ListOptions) ([]*Message, error) {
	out := ms.filter(opts)
	slices.SortFunc(out, func(a, b *Message) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return limit(out, opts.Limit), nil
}

// Update implements Repository.
func (ms *MemoryStorage) Update(ctx context.Context, id int64, upd MessageUpdate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, ok := ms.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	if !upd.Matches(m) {
		return ErrStaleUpdate
	}
	upd.Apply(m)
	return nil
}

// Delete implements Repository.
func (ms *MemoryStorage) Delete(ctx context.Context, id int64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(ms.messages, id)
	return nil
}

// Count implements Repository.
func (ms *MemoryStorage) Count(ctx context.Context, status Status) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	n := 0
	for _, m := range ms.messages {
		if m.Status == status {
			n++
		}
	}
	return n, nil
}

// ResetStatus implements Repository.
func (ms *MemoryStorage) ResetStatus(ctx context.Context, from Status, now time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	for _, m := range ms.messages {
		if m.Status == from {
			resetMessage(m, now)
			n++
		}
	}
	return n, nil
}

// ResetIDs implements Repository.
func (ms *MemoryStorage) ResetIDs(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	for _, id := range ids {
		if m, ok := ms.messages[id]; ok {
			resetMessage(m, now)
			n++
		}
	}
	return n, nil
}

// DeleteByStatus implements Repository.
func (ms *MemoryStorage) DeleteByStatus(ctx context.Context, status Status) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	for id, m := range ms.messages {
		if m.Status == status {
			delete(ms.messages, id)
			n++
		}
	}
	return n, nil
}

// DeleteTerminalBefore implements Repository.
func (ms *MemoryStorage) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	for id, m := range ms.messages {
		if m.Status.Terminal() && m.CreatedAt.Before(before) {
			delete(ms.messages, id)
			n++
		}
	}
	return n, nil
}

func (ms *MemoryStorage) filter(opts ListOptions) []*Message {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*Message, 0, len(ms.messages))
	for _, m := range ms.messages {
		if opts.Status != "" && m.Status != opts.Status {
			continue
		}
		if !opts.DueBefore.IsZero() && m.NextAttempt.After(opts.DueBefore) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func limit(list []*Message, n int) []*Message {
	if n > 0 && len(list) > n {
		return list[:n]
	}
	return list
}

func resetMessage(m *Message, now time.Time) {
	m.Status = StatusPending
	m.Attempts = 0
	m.NextAttempt = now
	m.Error = ""
}
