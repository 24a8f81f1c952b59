// Package redis backs the mail queue's coordination state with Redis.
//
// Connect parses REDIS_URL, pings until the server answers or the retry
// budget (RetryAttempts x RetryInterval) runs out, and returns a ready
// go-redis client. StateStore adapts that client to mailqueue.StateStore:
//
//   - the dispatch lease is a SET NX PX with a random token, released by a
//     Lua script that deletes the key only while it still holds that token
//   - the pause flag and the cached failed count are plain keys with a TTL
//   - a missing key reads as mailqueue.ErrStateNotFound
//
// Wiring it into the queue:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	q, err := mailqueue.New(queueCfg, repo, redis.NewStateStore(client), transport)
//
// Healthcheck(client) returns a readiness probe for httpserver.Readiness.
// Connection failures are joined with ErrRedisNotReady, so callers test for
// them with errors.Is.
package redis
