package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// AlertSubject is the subject of the message sent when the queue pauses.
const AlertSubject = "Mail queue failure alert"

// AlertConfig describes who is told about a paused queue and where they
// can intervene.
type AlertConfig struct {
	Recipients  []string
	From        string // optional From header
	SettingsURL string
	QueueURL    string
}

// CircuitStats is a snapshot of the breaker.
type CircuitStats struct {
	Paused      bool `json:"paused"`
	FailedCount int  `json:"failed_count"`
	Threshold   int  `json:"threshold"`
}

// CircuitBreaker pauses the whole queue once the number of terminally
// failed messages reaches a threshold. The pause flag lives in the
// StateStore with an expiry, so it is shared by every dispatcher and lifts
// on its own.
type CircuitBreaker struct {
	state     StateStore
	cache     *FailedCountCache
	mailer    email.EmailSender
	pauseKey  string
	threshold int
	pauseFor  time.Duration
	alert     AlertConfig
	logger    *slog.Logger
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithThreshold sets the failed-count threshold that trips the breaker.
func WithThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.threshold = n
		}
	}
}

// WithPauseDuration sets how long the queue stays paused once tripped.
func WithPauseDuration(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.pauseFor = d
		}
	}
}

// WithPauseKey sets the state key holding the pause flag.
func WithPauseKey(key string) BreakerOption {
	return func(cb *CircuitBreaker) {
		if key != "" {
			cb.pauseKey = key
		}
	}
}

// WithAlert sets alert recipients and intervention links.
func WithAlert(alert AlertConfig) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.alert = alert
	}
}

// WithBreakerLogger sets the logger.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(cb *CircuitBreaker) {
		if l != nil {
			cb.logger = l
		}
	}
}

// NewCircuitBreaker creates a breaker. mailer is used for the alert only
// and is called directly, never through the queue.
func NewCircuitBreaker(state StateStore, cache *FailedCountCache, mailer email.EmailSender, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:     state,
		cache:     cache,
		mailer:    mailer,
		pauseKey:  "mailqueue:paused",
		threshold: 10,
		pauseFor:  24 * time.Hour,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.logger = cb.logger.With(logger.Component("circuit_breaker"))
	return cb
}

// Paused reports whether dispatch is currently halted.
func (cb *CircuitBreaker) Paused(ctx context.Context) (bool, error) {
	_, err := cb.state.Get(ctx, cb.pauseKey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrStateNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read pause flag: %w", err)
	}
}

// Resume clears the pause flag. Callers are expected to wake the queue.
func (cb *CircuitBreaker) Resume(ctx context.Context) error {
	if err := cb.state.Delete(ctx, cb.pauseKey); err != nil {
		return fmt.Errorf("clear pause flag: %w", err)
	}
	cb.logger.InfoContext(ctx, "queue resumed")
	return nil
}

// FailedCount returns the cached number of failed messages.
func (cb *CircuitBreaker) FailedCount(ctx context.Context) (int, error) {
	return cb.cache.Get(ctx)
}

// Invalidate drops the cached failed count.
func (cb *CircuitBreaker) Invalidate(ctx context.Context) error {
	return cb.cache.Invalidate(ctx)
}

// RecordTerminalFailures is called each time a pass marks messages failed.
// cached is the failed count read when the pass started and newFailures the
// number failed so far in this pass. It reports whether the breaker tripped,
// in which case the caller must stop processing.
func (cb *CircuitBreaker) RecordTerminalFailures(ctx context.Context, cached, newFailures int) (bool, error) {
	if newFailures <= 0 {
		return false, nil
	}
	if err := cb.cache.Invalidate(ctx); err != nil {
		cb.logger.WarnContext(ctx, "failed to invalidate failed count", logger.Error(err))
	}
	if cached+newFailures < cb.threshold {
		return false, nil
	}

	if err := cb.state.Set(ctx, cb.pauseKey, "1", cb.pauseFor); err != nil {
		return false, fmt.Errorf("set pause flag: %w", err)
	}
	cb.logger.ErrorContext(ctx, "queue paused due to excessive failures",
		slog.Int("failed_count", cached),
		slog.Int("new_failures", newFailures),
		slog.Int("threshold", cb.threshold),
		logger.Duration(cb.pauseFor),
	)

	cb.sendAlert(ctx, cached, newFailures)

	if err := cb.cache.Invalidate(ctx); err != nil {
		cb.logger.WarnContext(ctx, "failed to invalidate failed count", logger.Error(err))
	}
	return true, nil
}

// State returns a snapshot of the breaker.
func (cb *CircuitBreaker) State(ctx context.Context) (CircuitStats, error) {
	paused, err := cb.Paused(ctx)
	if err != nil {
		return CircuitStats{}, err
	}
	count, err := cb.cache.Get(ctx)
	if err != nil {
		return CircuitStats{}, err
	}
	return CircuitStats{Paused: paused, FailedCount: count, Threshold: cb.threshold}, nil
}

func (cb *CircuitBreaker) sendAlert(ctx context.Context, cached, newFailures int) {
	if len(cb.alert.Recipients) == 0 {
		cb.logger.WarnContext(ctx, "no alert recipients configured, skipping failure alert")
		return
	}

	params := email.SendEmailParams{
		To:      cb.alert.Recipients,
		Subject: AlertSubject,
		Body:    alertBody(cached, newFailures, cb.alert),
		Tag:     "mailqueue-alert",
	}
	if cb.alert.From != "" {
		params.Headers.Add("From", cb.alert.From)
	}

	if err := cb.mailer.SendEmail(email.WithQueueOrigin(ctx), params); err != nil {
		cb.logger.ErrorContext(ctx, "failed to send failure alert",
			logger.Recipients(cb.alert.Recipients),
			logger.Error(err),
		)
	}
}

func alertBody(cached, newFailures int, alert AlertConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Multiple emails (%d + %d) failed to send. The queue is paused.", cached, newFailures)
	if alert.SettingsURL != "" {
		fmt.Fprintf(&b, " Update settings at %s.", alert.SettingsURL)
	}
	if alert.QueueURL != "" {
		fmt.Fprintf(&b, " View queue at %s.", alert.QueueURL)
	}
	return b.String()
}
