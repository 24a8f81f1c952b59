package redis

import "time"

// Config is loaded from REDIS_* variables. An empty ConnectionURL means the
// queue keeps its coordination state in process memory.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`                             // redis://:password@localhost:6379/0
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`   // ping attempts at startup
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`  // delay between attempts
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"` // overall startup deadline
}

// Enabled reports whether a Redis URL was configured.
func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
