package mailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lease is a keyed, time-bounded exclusive token guarding batch sweeps.
// The TTL must exceed the batch budget so a crashed sweep frees the queue
// on its own.
type Lease struct {
	state StateStore
	key   string
	ttl   time.Duration
}

// NewLease creates a lease stored under key.
func NewLease(state StateStore, key string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lease{state: state, key: key, ttl: ttl}
}

// Acquire takes the lease and returns its token, or ErrLeaseHeld.
func (l *Lease) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.state.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return "", ErrLeaseHeld
	}
	return token, nil
}

// Release frees the lease if token still owns it.
func (l *Lease) Release(ctx context.Context, token string) error {
	ok, err := l.state.CompareAndDelete(ctx, l.key, token)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// ForceRelease drops the lease regardless of owner.
func (l *Lease) ForceRelease(ctx context.Context) error {
	return l.state.Delete(ctx, l.key)
}
