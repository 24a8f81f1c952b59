package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// Recurring job names.
const (
	PeriodicJobName = "mailqueue:periodic"
	CleanupJobName  = "mailqueue:cleanup"
)

// Queue wires the engine together: store, state, breaker, lease,
// dispatcher, waker, trigger, admin commands and janitor.
type Queue struct {
	cfg       Config
	repo      Repository
	scheduler Scheduler

	breaker    *CircuitBreaker
	dispatcher *Dispatcher
	waker      *Waker
	trigger    *Trigger
	enqueuer   *Enqueuer
	admin      *Admin
	janitor    *Janitor
	sender     *QueueingSender

	now    func() time.Time
	logger *slog.Logger
}

type queueOptions struct {
	logger     *slog.Logger
	now        func() time.Time
	scheduler  Scheduler
	httpClient *http.Client
}

// Option configures New.
type Option func(*queueOptions)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *queueOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNow overrides the time source of every component.
func WithNow(now func() time.Time) Option {
	return func(o *queueOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithScheduler replaces the in-process TimerScheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *queueOptions) {
		if s != nil {
			o.scheduler = s
		}
	}
}

// WithHTTPClient sets the client used for wake requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *queueOptions) {
		o.httpClient = c
	}
}

// New builds a queue engine. mailer is the real transport; messages
// reach it only through the dispatcher.
func New(cfg Config, repo Repository, state StateStore, mailer email.EmailSender, opts ...Option) (*Queue, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if state == nil {
		return nil, ErrStateNil
	}
	if mailer == nil {
		return nil, ErrMailerNil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := NewRetryPolicy(cfg.RetryIntervals...)
	if err != nil {
		return nil, err
	}

	o := &queueOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.scheduler == nil {
		o.scheduler = NewTimerScheduler(WithSchedulerLogger(o.logger), WithSchedulerClock(o.now))
	}

	q := &Queue{
		cfg:       cfg,
		repo:      repo,
		scheduler: o.scheduler,
		now:       o.now,
		logger:    o.logger.With(logger.Component("mailqueue")),
	}

	cache := NewFailedCountCache(repo, state, cfg.key("failed_count"), cfg.FailedCountTTL)
	q.breaker = NewCircuitBreaker(state, cache, mailer,
		WithThreshold(cfg.FailureThreshold),
		WithPauseDuration(cfg.PauseDuration),
		WithPauseKey(cfg.key("paused")),
		WithAlert(AlertConfig{
			Recipients:  cfg.AlertEmails,
			From:        cfg.AlertFrom,
			SettingsURL: cfg.SettingsURL,
			QueueURL:    cfg.QueueURL,
		}),
		WithBreakerLogger(o.logger),
	)

	q.waker = NewWaker(o.scheduler,
		InvokerFunc(func(ctx context.Context, req TriggerRequest, trusted bool) error {
			return q.trigger.Invoke(ctx, req, trusted)
		}),
		WithTriggerURL(cfg.TriggerURL, cfg.TriggerSecret),
		WithWakeHTTPClient(o.httpClient),
		WithWakeTimeout(cfg.TriggerTimeout),
		WithFallbackDelay(cfg.FallbackDelay),
		WithWakerClock(o.now),
		WithWakerLogger(o.logger),
	)

	q.dispatcher, err = NewDispatcher(repo, mailer, q.breaker,
		NewLease(state, cfg.key("lease"), cfg.LeaseTTL),
		WithRetryPolicy(policy),
		WithBatchSize(cfg.BatchSize),
		WithBatchBudget(cfg.BatchBudget),
		WithGraceWindow(cfg.GraceWindow),
		WithFallbackScheduler(q.waker),
		WithClock(o.now),
		WithDispatcherLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	q.trigger = NewTrigger(q.dispatcher, cfg.TriggerSecret, WithTriggerLogger(o.logger))

	q.enqueuer, err = NewEnqueuer(repo, q.waker,
		WithEnqueuerClock(o.now),
		WithEnqueuerLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	q.admin, err = NewAdmin(repo, q.breaker, q.enqueuer, q.waker,
		WithAdminClock(o.now),
		WithAdminLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	q.janitor = NewJanitor(repo, q.breaker, RetentionDays(cfg.RetentionDays),
		WithJanitorClock(o.now),
		WithJanitorLogger(o.logger),
	)

	q.sender = NewQueueingSender(q.enqueuer, mailer)
	return q, nil
}

// Enqueue queues params for delivery.
func (q *Queue) Enqueue(ctx context.Context, params email.SendEmailParams) (int64, error) {
	return q.enqueuer.Enqueue(ctx, params)
}

// Sender returns an email.EmailSender that queues instead of sending.
func (q *Queue) Sender() *QueueingSender { return q.sender }

// Dispatcher returns the dispatcher.
func (q *Queue) Dispatcher() *Dispatcher { return q.dispatcher }

// Breaker returns the circuit breaker.
func (q *Queue) Breaker() *CircuitBreaker { return q.breaker }

// Waker returns the waker.
func (q *Queue) Waker() *Waker { return q.waker }

// Trigger returns the trigger, an http.Handler for the wake endpoint.
func (q *Queue) Trigger() *Trigger { return q.trigger }

// Admin returns the operator commands.
func (q *Queue) Admin() *Admin { return q.admin }

// Janitor returns the retention cleaner.
func (q *Queue) Janitor() *Janitor { return q.janitor }

// Start registers the periodic sweep and daily cleanup, then runs the
// scheduler until ctx is done. Detached dispatches are drained before it
// returns.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.scheduler.ScheduleRecurring(PeriodicJobName, Every(q.cfg.SweepInterval), q.RunPeriodic); err != nil {
		return fmt.Errorf("register periodic sweep: %w", err)
	}
	if err := q.scheduler.ScheduleRecurring(CleanupJobName, DailyAt(q.cfg.CleanupHour, 0), q.RunDaily); err != nil {
		return fmt.Errorf("register daily cleanup: %w", err)
	}
	q.logger.InfoContext(ctx, "mail queue started",
		slog.Duration("sweep_interval", q.cfg.SweepInterval),
		slog.Int("batch_size", q.cfg.BatchSize),
	)

	if runner, ok := q.scheduler.(interface{ Start(context.Context) error }); ok {
		if err := runner.Start(ctx); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
		q.scheduler.Cancel(PeriodicJobName)
		q.scheduler.Cancel(CleanupJobName)
		q.scheduler.Cancel(FallbackJobName)
	}

	q.trigger.Stop()
	q.waker.Stop()
	q.logger.Info("mail queue stopped")
	return nil
}

// RunPeriodic runs one sweep and re-arms a later one if due work remains.
func (q *Queue) RunPeriodic(ctx context.Context) {
	ctx = WithOrigin(ctx, OriginPeriodic)
	if _, err := q.dispatcher.DispatchBatch(ctx); err != nil {
		q.logger.ErrorContext(ctx, "periodic sweep failed", logger.Error(err))
	}
	q.rearmIfPending(ctx, q.cfg.RearmDelay)
}

// RunDaily runs retention cleanup and re-arms a sweep if work is pending.
func (q *Queue) RunDaily(ctx context.Context) {
	ctx = WithOrigin(ctx, OriginPeriodic)
	if _, err := q.janitor.Cleanup(ctx); err != nil {
		q.logger.ErrorContext(ctx, "retention cleanup failed", logger.Error(err))
	}
	q.rearmIfPending(ctx, q.cfg.FallbackDelay)
}

func (q *Queue) rearmIfPending(ctx context.Context, delay time.Duration) {
	pending, err := q.repo.ListDue(ctx, ListOptions{Status: StatusPending, Limit: 1})
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to check pending messages", logger.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	at := q.now().Add(delay)
	if next := pending[0].NextAttempt; next.After(at) {
		at = next
	}
	if err := q.waker.Rearm(ctx, at); err != nil {
		q.logger.ErrorContext(ctx, "failed to re-arm sweep", logger.Error(err))
	}
}
