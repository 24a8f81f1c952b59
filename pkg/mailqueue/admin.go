package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// TestSubject is the subject of messages queued by Admin.SendTest.
const TestSubject = "Test email from mailqueue"

// Admin implements operator commands. Every mutating command invalidates
// the failed-count cache.
type Admin struct {
	repo      Repository
	breaker   *CircuitBreaker
	enqueuer  *Enqueuer
	wake      Signaler
	listLimit int
	now       func() time.Time
	logger    *slog.Logger
}

// AdminOption configures an Admin.
type AdminOption func(*Admin)

// WithListLimit sets the default page size of List.
func WithListLimit(n int) AdminOption {
	return func(a *Admin) {
		if n > 0 {
			a.listLimit = n
		}
	}
}

// WithAdminClock overrides the time source.
func WithAdminClock(now func() time.Time) AdminOption {
	return func(a *Admin) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAdminLogger sets the logger.
func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(a *Admin) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdmin creates the operator command set.
func NewAdmin(repo Repository, breaker *CircuitBreaker, enqueuer *Enqueuer, wake Signaler, opts ...AdminOption) (*Admin, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if breaker == nil {
		return nil, ErrStateNil
	}
	a := &Admin{
		repo:      repo,
		breaker:   breaker,
		enqueuer:  enqueuer,
		wake:      wake,
		listLimit: 100,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("admin"))
	return a, nil
}

// Resend resets one message to pending, due now, and wakes it.
func (a *Admin) Resend(ctx context.Context, id int64) error {
	ctx = WithOrigin(ctx, OriginAdmin)
	n, err := a.repo.ResetIDs(ctx, []int64{id}, a.now())
	if err != nil {
		return fmt.Errorf("resend message %d: %w", id, err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	a.invalidate(ctx)
	a.logger.InfoContext(ctx, "message resent", logger.MessageID(id))
	if a.wake != nil {
		a.wake.Wake(ctx, id)
	}
	return nil
}

// ResendAllFailed resets every failed message and wakes a sweep.
func (a *Admin) ResendAllFailed(ctx context.Context) (int64, error) {
	ctx = WithOrigin(ctx, OriginAdmin)
	n, err := a.repo.ResetStatus(ctx, StatusFailed, a.now())
	if err != nil {
		return 0, fmt.Errorf("resend failed messages: %w", err)
	}
	a.invalidate(ctx)
	a.logger.InfoContext(ctx, "failed messages resent", logger.Count(n))
	if n > 0 && a.wake != nil {
		a.wake.WakeSweep(ctx)
	}
	return n, nil
}

// ResendChecked resets the selected messages and wakes a sweep.
func (a *Admin) ResendChecked(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx = WithOrigin(ctx, OriginAdmin)
	n, err := a.repo.ResetIDs(ctx, ids, a.now())
	if err != nil {
		return 0, fmt.Errorf("resend selected messages: %w", err)
	}
	a.invalidate(ctx)
	a.logger.InfoContext(ctx, "selected messages resent", logger.Count(n))
	if n > 0 && a.wake != nil {
		a.wake.WakeSweep(ctx)
	}
	return n, nil
}

// ClearSent deletes every sent message.
func (a *Admin) ClearSent(ctx context.Context) (int64, error) {
	return a.clear(WithOrigin(ctx, OriginAdmin), StatusSent)
}

// ClearFailed deletes every failed message.
func (a *Admin) ClearFailed(ctx context.Context) (int64, error) {
	return a.clear(WithOrigin(ctx, OriginAdmin), StatusFailed)
}

// Resume lifts the circuit breaker pause and wakes a sweep.
func (a *Admin) Resume(ctx context.Context) error {
	ctx = WithOrigin(ctx, OriginAdmin)
	if err := a.breaker.Resume(ctx); err != nil {
		return err
	}
	a.invalidate(ctx)
	if a.wake != nil {
		a.wake.WakeSweep(ctx)
	}
	return nil
}

// Status returns per-status counts and the breaker state.
func (a *Admin) Status(ctx context.Context) (QueueStatus, error) {
	stats, err := a.breaker.State(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	st := QueueStatus{
		Paused:      stats.Paused,
		FailedCount: stats.FailedCount,
		Threshold:   stats.Threshold,
	}
	for status, dst := range map[Status]*int{
		StatusPending: &st.Pending,
		StatusSent:    &st.Sent,
		StatusFailed:  &st.Failed,
	} {
		n, err := a.repo.Count(ctx, status)
		if err != nil {
			return QueueStatus{}, fmt.Errorf("count %s messages: %w", status, err)
		}
		*dst = n
	}
	return st, nil
}

// View returns one message.
func (a *Admin) View(ctx context.Context, id int64) (*Message, error) {
	return a.repo.Get(ctx, id)
}

// List returns messages newest first. A non-positive limit uses the default.
func (a *Admin) List(ctx context.Context, status Status, limit int) ([]*Message, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if limit <= 0 {
		limit = a.listLimit
	}
	return a.repo.List(ctx, ListOptions{Status: status, Limit: limit})
}

// SendTest queues a test message to to.
func (a *Admin) SendTest(ctx context.Context, to string) (int64, error) {
	if a.enqueuer == nil {
		return 0, ErrRepositoryNil
	}
	if !email.ValidAddress(to) {
		return 0, fmt.Errorf("%w: To must be a valid email address", email.ErrInvalidParams)
	}
	return a.enqueuer.Enqueue(WithOrigin(ctx, OriginAdmin), email.SendEmailParams{
		To:      []string{to},
		Subject: TestSubject,
		Body:    "This is a test email sent through the mail queue.",
	})
}

func (a *Admin) clear(ctx context.Context, status Status) (int64, error) {
	n, err := a.repo.DeleteByStatus(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("clear %s messages: %w", status, err)
	}
	a.invalidate(ctx)
	a.logger.InfoContext(ctx, "messages cleared", logger.Status(status), logger.Count(n))
	return n, nil
}

func (a *Admin) invalidate(ctx context.Context) {
	if err := a.breaker.Invalidate(ctx); err != nil {
		a.logger.WarnContext(ctx, "failed to invalidate failed count", logger.Error(err))
	}
}
