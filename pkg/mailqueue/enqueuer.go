package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// Signaler issues wakes. *Waker is the production implementation.
type Signaler interface {
	Wake(ctx context.Context, id int64)
	WakeSweep(ctx context.Context)
}

// Enqueuer persists outbound messages and wakes the dispatcher for each.
type Enqueuer struct {
	repo   Repository
	wake   Signaler
	now    func() time.Time
	logger *slog.Logger
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithEnqueuerClock overrides the time source.
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(e *Enqueuer) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEnqueuerLogger sets the logger.
func WithEnqueuerLogger(l *slog.Logger) EnqueuerOption {
	return func(e *Enqueuer) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEnqueuer creates an enqueuer. wake may be nil, leaving new messages
// to the periodic sweep.
func NewEnqueuer(repo Repository, wake Signaler, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	e := &Enqueuer{
		repo:   repo,
		wake:   wake,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("enqueuer"))
	return e, nil
}

// Enqueue stores params as a pending message due now and returns its id.
// The caller never waits on delivery.
func (e *Enqueuer) Enqueue(ctx context.Context, params email.SendEmailParams) (int64, error) {
	recipients := make([]string, 0, len(params.To))
	for _, to := range params.To {
		recipients = append(recipients, email.SplitRecipients(to)...)
	}
	if len(recipients) == 0 {
		return 0, ErrNoRecipients
	}
	params.To = recipients
	if err := params.Validate(); err != nil {
		return 0, err
	}

	now := e.now()
	msg := &Message{
		Recipients:  recipients,
		Subject:     params.Subject,
		Body:        params.Body,
		Headers:     params.Headers,
		Status:      StatusPending,
		NextAttempt: now,
		CreatedAt:   now,
	}
	id, err := e.repo.Insert(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("enqueue message: %w", err)
	}

	e.logger.DebugContext(ctx, "message enqueued",
		logger.MessageID(id),
		logger.Recipients(recipients),
	)
	if e.wake != nil {
		e.wake.Wake(ctx, id)
	}
	return id, nil
}
