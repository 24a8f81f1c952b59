package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// FallbackScheduler arms the timer-based sweep used when retries are pending.
type FallbackScheduler interface {
	ScheduleFallback(ctx context.Context, at time.Time) error
}

// Dispatcher attempts delivery of queued messages.
//
// DispatchOne handles the immediate per-message wake and is not lease
// protected: it re-checks that the message is pending and due right before
// sending, so duplicate calls converge on the same state. DispatchBatch is
// the lease-protected sweep over due messages.
type Dispatcher struct {
	repo     Repository
	mailer   email.EmailSender
	breaker  *CircuitBreaker
	lease    *Lease
	fallback FallbackScheduler

	policy    RetryPolicy
	batchSize int
	budget    time.Duration
	grace     time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(repo Repository, mailer email.EmailSender, breaker *CircuitBreaker, lease *Lease, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if mailer == nil {
		return nil, ErrMailerNil
	}
	if breaker == nil || lease == nil {
		return nil, ErrStateNil
	}

	d := &Dispatcher{
		repo:      repo,
		mailer:    mailer,
		breaker:   breaker,
		lease:     lease,
		policy:    DefaultRetryPolicy(),
		batchSize: 10,
		budget:    30 * time.Second,
		grace:     30 * time.Second,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logger.Component("dispatcher"))
	return d, nil
}

// Policy returns the retry policy in use.
func (d *Dispatcher) Policy() RetryPolicy {
	return d.policy
}

// DispatchOne attempts delivery of a single message if it is still pending
// and due. A missing, already processed or not yet due message is logged
// and reported as OutcomeSkipped without error.
func (d *Dispatcher) DispatchOne(ctx context.Context, id int64) (Outcome, error) {
	ctx = withDefaultOrigin(ctx, OriginItem)

	paused, err := d.breaker.Paused(ctx)
	if err != nil {
		return OutcomeSkipped, err
	}
	if paused {
		d.logger.InfoContext(ctx, "skipping dispatch", logger.MessageID(id), logger.Error(ErrQueuePaused))
		if err := d.lease.ForceRelease(ctx); err != nil {
			d.logger.WarnContext(ctx, "failed to release lease", logger.Error(err))
		}
		return OutcomeSkipped, nil
	}

	msg, err := d.repo.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrMessageNotFound) {
		return OutcomeSkipped, fmt.Errorf("load message %d: %w", id, err)
	}
	if msg == nil || !msg.Due(d.now()) {
		d.logger.InfoContext(ctx, "requested message is not due",
			logger.MessageID(id),
			logger.Error(ErrNothingDue),
		)
		return OutcomeSkipped, nil
	}

	cached := d.failedCount(ctx)
	outcome, retryAt, err := d.attempt(ctx, msg)
	switch outcome {
	case OutcomeFailed:
		if _, trErr := d.breaker.RecordTerminalFailures(ctx, cached, 1); trErr != nil {
			d.logger.ErrorContext(ctx, "circuit breaker update failed", logger.Error(trErr))
		}
	case OutcomeRetry:
		d.scheduleFallback(ctx, retryAt)
	}
	return outcome, err
}

// DispatchBatch runs one lease-protected sweep over due pending messages.
// Lease contention and a paused queue are not errors.
func (d *Dispatcher) DispatchBatch(ctx context.Context) (BatchResult, error) {
	ctx = withDefaultOrigin(ctx, OriginSweep)
	var res BatchResult

	paused, err := d.breaker.Paused(ctx)
	if err != nil {
		return res, err
	}
	if paused {
		d.logger.InfoContext(ctx, "skipping sweep", logger.Error(ErrQueuePaused))
		if err := d.lease.ForceRelease(ctx); err != nil {
			d.logger.WarnContext(ctx, "failed to release lease", logger.Error(err))
		}
		return res, nil
	}

	token, err := d.lease.Acquire(ctx)
	if errors.Is(err, ErrLeaseHeld) {
		d.logger.DebugContext(ctx, "queue already running")
		return res, nil
	}
	if err != nil {
		return res, err
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := d.lease.Release(context.WithoutCancel(ctx), token); err != nil {
			d.logger.WarnContext(ctx, "failed to release lease", logger.Error(err))
		}
	}
	defer release()

	msgs, err := d.repo.ListDue(ctx, ListOptions{
		Status:    StatusPending,
		DueBefore: d.now(),
		Limit:     d.batchSize,
	})
	if err != nil {
		return res, fmt.Errorf("select due messages: %w", err)
	}
	if len(msgs) == 0 {
		d.logger.DebugContext(ctx, "no pending messages to process")
		return res, nil
	}
	res.Selected = len(msgs)

	start := d.now()
	d.logger.InfoContext(ctx, "processing started", slog.Int("selected", len(msgs)))

	cached := d.failedCount(ctx)
	newFailures := 0
	var wakes []time.Time

loop:
	for i, msg := range msgs {
		now := d.now()
		if now.Sub(start) > d.budget || ctx.Err() != nil {
			d.logger.WarnContext(ctx, "processing budget exhausted",
				slog.Int("remaining", len(msgs)-i),
				logger.Duration(now.Sub(start)),
			)
			wakes = append(wakes, now)
			break
		}

		if msg.Attempts == 0 && now.Sub(msg.NextAttempt) < d.grace {
			res.Skipped++
			wakes = append(wakes, msg.NextAttempt.Add(d.grace))
			d.logger.DebugContext(ctx, "skipping freshly enqueued message", logger.MessageID(msg.ID))
			continue
		}

		outcome, retryAt, err := d.attempt(ctx, msg)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to record delivery outcome",
				logger.MessageID(msg.ID),
				logger.Error(err),
			)
		}

		switch outcome {
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeSent:
			res.Sent++
		case OutcomeRetry:
			res.Retried++
			wakes = append(wakes, retryAt)
		case OutcomeFailed:
			res.Failed++
			newFailures++
			tripped, trErr := d.breaker.RecordTerminalFailures(ctx, cached, newFailures)
			if trErr != nil {
				d.logger.ErrorContext(ctx, "circuit breaker update failed", logger.Error(trErr))
			}
			if tripped {
				res.Tripped = true
				break loop
			}
		}
	}

	release()

	if len(wakes) > 0 {
		soonest := wakes[0]
		for _, w := range wakes[1:] {
			if w.Before(soonest) {
				soonest = w
			}
		}
		if d.scheduleFallback(ctx, soonest) {
			res.NextWake = soonest
		}
	}

	d.logger.InfoContext(ctx, "processing completed",
		slog.Int("sent", res.Sent),
		slog.Int("retried", res.Retried),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Bool("tripped", res.Tripped),
		logger.Duration(d.now().Sub(start)),
	)
	return res, nil
}

// attempt sends msg once and persists the outcome. The returned time is the
// next attempt for OutcomeRetry.
//
// Failure writes are conditional on the snapshot msg was loaded from. When a
// concurrent dispatch of the same message recorded its outcome first, the
// write is dropped and OutcomeSkipped is returned. A successful send is
// always recorded.
func (d *Dispatcher) attempt(ctx context.Context, msg *Message) (Outcome, time.Time, error) {
	sendErr := d.mailer.SendEmail(email.WithQueueOrigin(ctx), msg.Params())
	if sendErr == nil {
		status := StatusSent
		if err := d.repo.Update(ctx, msg.ID, MessageUpdate{Status: &status}); err != nil {
			return OutcomeSent, time.Time{}, fmt.Errorf("mark message %d sent: %w", msg.ID, err)
		}
		d.logger.InfoContext(ctx, "message sent", logger.MessageID(msg.ID), logger.Attempt(msg.Attempts+1))
		return OutcomeSent, time.Time{}, nil
	}

	attempts := msg.Attempts + 1
	maxAttempts := d.policy.MaxAttempts()
	pending := StatusPending
	seen := msg.Attempts

	if d.policy.Exhausted(attempts) {
		status := StatusFailed
		var never time.Time
		errText := fmt.Sprintf("max retries (%d) reached: %v", maxAttempts, sendErr)
		err := d.repo.Update(ctx, msg.ID, MessageUpdate{
			Status:      &status,
			Attempts:    &attempts,
			NextAttempt: &never,
			Error:       &errText,
			IfStatus:    &pending,
			IfAttempts:  &seen,
		})
		if superseded(err) {
			d.logSuperseded(ctx, msg, sendErr)
			return OutcomeSkipped, time.Time{}, nil
		}
		d.logger.ErrorContext(ctx, "message marked as failed",
			logger.MessageID(msg.ID),
			logger.Attempt(attempts),
			logger.MaxAttempts(maxAttempts),
			logger.Error(sendErr),
		)
		if err != nil {
			return OutcomeFailed, time.Time{}, fmt.Errorf("mark message %d failed: %w", msg.ID, err)
		}
		return OutcomeFailed, time.Time{}, nil
	}

	next := d.now().Add(d.policy.Delay(attempts))
	errText := sendErr.Error()
	err := d.repo.Update(ctx, msg.ID, MessageUpdate{
		Attempts:    &attempts,
		NextAttempt: &next,
		Error:       &errText,
		IfStatus:    &pending,
		IfAttempts:  &seen,
	})
	if superseded(err) {
		d.logSuperseded(ctx, msg, sendErr)
		return OutcomeSkipped, time.Time{}, nil
	}
	d.logger.WarnContext(ctx, "message delivery failed, retry scheduled",
		logger.MessageID(msg.ID),
		logger.Attempt(attempts),
		logger.MaxAttempts(maxAttempts),
		slog.Time("next_attempt", next),
		logger.Error(sendErr),
	)
	if err != nil {
		return OutcomeRetry, next, fmt.Errorf("schedule retry for message %d: %w", msg.ID, err)
	}
	return OutcomeRetry, next, nil
}

// superseded reports whether an outcome write lost to another dispatch or
// to an admin command that removed the message.
func superseded(err error) bool {
	return errors.Is(err, ErrStaleUpdate) || errors.Is(err, ErrMessageNotFound)
}

func (d *Dispatcher) logSuperseded(ctx context.Context, msg *Message, sendErr error) {
	d.logger.InfoContext(ctx, "delivery failure dropped, message already processed",
		logger.MessageID(msg.ID),
		logger.Attempt(msg.Attempts+1),
		logger.Error(sendErr),
	)
}

func (d *Dispatcher) failedCount(ctx context.Context) int {
	n, err := d.breaker.FailedCount(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "failed to read failed count", logger.Error(err))
	}
	return n
}

func (d *Dispatcher) scheduleFallback(ctx context.Context, at time.Time) bool {
	if d.fallback == nil {
		return false
	}
	if err := d.fallback.ScheduleFallback(ctx, at); err != nil {
		d.logger.ErrorContext(ctx, "failed to schedule fallback sweep", slog.Time("at", at), logger.Error(err))
		return false
	}
	return true
}

func withDefaultOrigin(ctx context.Context, o Origin) context.Context {
	if _, ok := OriginFromContext(ctx); ok {
		return ctx
	}
	return WithOrigin(ctx, o)
}
