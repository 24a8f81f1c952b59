package mailqueue

import (
	"fmt"
	"time"
)

// Config holds queue engine settings.
type Config struct {
	RetryIntervals   []time.Duration `env:"MAILQUEUE_RETRY_INTERVALS" envDefault:"5m,1h" envSeparator:","` // RetryIntervals are the delays before each retry; max attempts is len+1.
	BatchSize        int             `env:"MAILQUEUE_BATCH_SIZE" envDefault:"10"`                          // BatchSize caps messages selected per sweep.
	BatchBudget      time.Duration   `env:"MAILQUEUE_BATCH_BUDGET" envDefault:"30s"`                       // BatchBudget is the cooperative wall-clock budget of a sweep.
	GraceWindow      time.Duration   `env:"MAILQUEUE_GRACE_WINDOW" envDefault:"30s"`                       // GraceWindow leaves fresh messages to their immediate wake.
	LeaseTTL         time.Duration   `env:"MAILQUEUE_LEASE_TTL" envDefault:"5m"`                           // LeaseTTL must exceed BatchBudget.
	FailureThreshold int             `env:"MAILQUEUE_FAILURE_THRESHOLD" envDefault:"10"`                   // FailureThreshold of failed messages pauses the queue.
	PauseDuration    time.Duration   `env:"MAILQUEUE_PAUSE_DURATION" envDefault:"24h"`                     // PauseDuration is how long the circuit breaker pause lasts.
	FailedCountTTL   time.Duration   `env:"MAILQUEUE_FAILED_COUNT_TTL" envDefault:"5m"`                    // FailedCountTTL is the freshness of the cached failed count.
	RetentionDays    int             `env:"MAILQUEUE_RETENTION_DAYS" envDefault:"7"`                       // RetentionDays keeps sent and failed messages; 0 disables cleanup.
	SweepInterval    time.Duration   `env:"MAILQUEUE_SWEEP_INTERVAL" envDefault:"5m"`                      // SweepInterval of the periodic sweep.
	FallbackDelay    time.Duration   `env:"MAILQUEUE_FALLBACK_DELAY" envDefault:"30s"`                     // FallbackDelay after a failed wake.
	RearmDelay       time.Duration   `env:"MAILQUEUE_REARM_DELAY" envDefault:"5m"`                         // RearmDelay for leftover work after a periodic sweep.
	CleanupHour      int             `env:"MAILQUEUE_CLEANUP_HOUR" envDefault:"3"`                         // CleanupHour is the local hour of the daily cleanup.
	KeyPrefix        string          `env:"MAILQUEUE_KEY_PREFIX" envDefault:"mailqueue:"`                  // KeyPrefix namespaces state keys.

	TriggerURL     string        `env:"MAILQUEUE_TRIGGER_URL"`                    // TriggerURL receives wakes; empty dispatches in process.
	TriggerSecret  string        `env:"MAILQUEUE_TRIGGER_SECRET"`                 // TriggerSecret authenticates wakes.
	TriggerTimeout time.Duration `env:"MAILQUEUE_TRIGGER_TIMEOUT" envDefault:"3s"` // TriggerTimeout bounds each wake request.
	AdminToken     string        `env:"MAILQUEUE_ADMIN_TOKEN"`                    // AdminToken guards the admin API.
	SubmitToken    string        `env:"MAILQUEUE_SUBMIT_TOKEN"`                   // SubmitToken guards HTTP submission; empty disables it.

	AlertEmails []string `env:"MAILQUEUE_ALERT_EMAILS" envSeparator:","` // AlertEmails are told when the queue pauses.
	AlertFrom   string   `env:"MAILQUEUE_ALERT_FROM"`                    // AlertFrom overrides the alert From header.
	SettingsURL string   `env:"MAILQUEUE_SETTINGS_URL"`                  // SettingsURL is linked from the alert.
	QueueURL    string   `env:"MAILQUEUE_QUEUE_URL"`                     // QueueURL is linked from the alert.
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RetryIntervals:   append([]time.Duration(nil), DefaultRetryIntervals...),
		BatchSize:        10,
		BatchBudget:      30 * time.Second,
		GraceWindow:      30 * time.Second,
		LeaseTTL:         5 * time.Minute,
		FailureThreshold: 10,
		PauseDuration:    24 * time.Hour,
		FailedCountTTL:   5 * time.Minute,
		RetentionDays:    7,
		SweepInterval:    5 * time.Minute,
		FallbackDelay:    30 * time.Second,
		RearmDelay:       5 * time.Minute,
		CleanupHour:      3,
		KeyPrefix:        "mailqueue:",
		TriggerTimeout:   3 * time.Second,
	}
}

func (c Config) key(name string) string {
	return c.KeyPrefix + name
}

// Validate checks settings that only make sense together. Zero durations
// stand for the component defaults.
func (c Config) Validate() error {
	budget, ttl := c.BatchBudget, c.LeaseTTL
	if budget <= 0 {
		budget = 30 * time.Second
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if ttl <= budget {
		return fmt.Errorf("%w: lease ttl %s, batch budget %s", ErrLeaseTTLTooShort, ttl, budget)
	}
	return nil
}
