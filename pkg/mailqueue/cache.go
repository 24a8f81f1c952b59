package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// FailedCountCache is an advisory, short-lived copy of the number of
// failed messages. The repository stays authoritative.
type FailedCountCache struct {
	repo  Repository
	state StateStore
	key   string
	ttl   time.Duration
}

// NewFailedCountCache creates a cache stored under key with the given freshness.
func NewFailedCountCache(repo Repository, state StateStore, key string, ttl time.Duration) *FailedCountCache {
	return &FailedCountCache{repo: repo, state: state, key: key, ttl: ttl}
}

// Get returns the cached count, recomputing it from the repository when
// the cached value is missing, expired or unreadable.
func (c *FailedCountCache) Get(ctx context.Context) (int, error) {
	raw, err := c.state.Get(ctx, c.key)
	if err == nil {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			return n, nil
		}
	} else if !errors.Is(err, ErrStateNotFound) {
		return 0, fmt.Errorf("read failed count: %w", err)
	}

	n, err := c.repo.Count(ctx, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("count failed messages: %w", err)
	}
	if err := c.state.Set(ctx, c.key, strconv.Itoa(n), c.ttl); err != nil {
		return n, fmt.Errorf("store failed count: %w", err)
	}
	return n, nil
}

// Invalidate drops the cached value.
func (c *FailedCountCache) Invalidate(ctx context.Context) error {
	return c.state.Delete(ctx, c.key)
}
