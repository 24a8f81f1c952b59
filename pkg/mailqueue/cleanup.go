package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// Janitor deletes sent and failed messages older than the retention period.
type Janitor struct {
	repo      Repository
	breaker   *CircuitBreaker
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithJanitorClock overrides the time source.
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// WithJanitorLogger sets the logger.
func WithJanitorLogger(l *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		if l != nil {
			j.logger = l
		}
	}
}

// NewJanitor creates a janitor. A non-positive retention disables cleanup.
// breaker may be nil.
func NewJanitor(repo Repository, breaker *CircuitBreaker, retention time.Duration, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		repo:      repo,
		breaker:   breaker,
		retention: retention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With(logger.Component("janitor"))
	return j
}

// RetentionDays converts a day count into a retention period.
func RetentionDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// Cleanup removes expired terminal messages and returns how many went.
func (j *Janitor) Cleanup(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	before := j.now().Add(-j.retention)
	n, err := j.repo.DeleteTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	if n > 0 && j.breaker != nil {
		if err := j.breaker.Invalidate(ctx); err != nil {
			j.logger.WarnContext(ctx, "failed to invalidate failed count", logger.Error(err))
		}
	}
	j.logger.InfoContext(ctx, "expired messages deleted",
		logger.Count(n),
		slog.Time("before", before),
	)
	return n, nil
}
