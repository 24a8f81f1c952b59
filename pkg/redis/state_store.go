package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StateStore implements mailqueue.StateStore on Redis so the dispatch lease,
// pause flag and cached failed count are shared across processes.
type StateStore struct {
	db redis.UniversalClient
}

// NewStateStore wraps a connected client.
func NewStateStore(client redis.UniversalClient) *StateStore {
	return &StateStore{db: client}
}

// SetNX stores value if key is absent. Zero ttl means no expiration.
func (s *StateStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.db.SetNX(ctx, key, value, ttl).Result()
}

// Set stores value. Zero ttl means no expiration.
func (s *StateStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.Set(ctx, key, value, ttl).Err()
}

// Get returns mailqueue.ErrStateNotFound for missing keys (redis.Nil).
func (s *StateStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.db.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", mailqueue.ErrStateNotFound
	}
	return val, err
}

// Delete removes keys. Missing keys are ignored.
func (s *StateStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Del(ctx, keys...).Err()
}

// CompareAndDelete atomically removes key if it holds value.
func (s *StateStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.db, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ mailqueue.StateStore = (*StateStore)(nil)
