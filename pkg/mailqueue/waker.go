package mailqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// FallbackJobName is the scheduler entry holding the pending fallback sweep.
const FallbackJobName = "mailqueue:fallback"

// Waker re-arms the queue. Wakes go out of band to the trigger URL, or
// straight to the in-process invoker when no URL is configured. A wake
// that cannot be delivered leaves a fallback sweep behind.
type Waker struct {
	scheduler Scheduler
	invoker   Invoker

	triggerURL    string
	secret        string
	client        *http.Client
	timeout       time.Duration
	fallbackDelay time.Duration

	now    func() time.Time
	logger *slog.Logger
	jobs   detached
}

// WakerOption configures a Waker.
type WakerOption func(*Waker)

// WithTriggerURL makes wakes POST to url with the shared secret.
func WithTriggerURL(url, secret string) WakerOption {
	return func(w *Waker) {
		w.triggerURL = url
		w.secret = secret
	}
}

// WithWakeHTTPClient sets the HTTP client used for wakes. Redirects are
// never followed.
func WithWakeHTTPClient(c *http.Client) WakerOption {
	return func(w *Waker) {
		if c != nil {
			w.client = c
		}
	}
}

// WithWakeTimeout bounds each wake request.
func WithWakeTimeout(d time.Duration) WakerOption {
	return func(w *Waker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithFallbackDelay sets how far out the fallback sweep is armed when a
// wake fails.
func WithFallbackDelay(d time.Duration) WakerOption {
	return func(w *Waker) {
		if d > 0 {
			w.fallbackDelay = d
		}
	}
}

// WithWakerClock overrides the time source.
func WithWakerClock(now func() time.Time) WakerOption {
	return func(w *Waker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithWakerLogger sets the logger.
func WithWakerLogger(l *slog.Logger) WakerOption {
	return func(w *Waker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWaker creates a waker. invoker runs fallback sweeps and, without a
// trigger URL, every wake.
func NewWaker(scheduler Scheduler, invoker Invoker, opts ...WakerOption) *Waker {
	w := &Waker{
		scheduler:     scheduler,
		invoker:       invoker,
		timeout:       3 * time.Second,
		fallbackDelay: 30 * time.Second,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.client == nil {
		w.client = &http.Client{}
	}
	client := *w.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	w.client = &client
	w.logger = w.logger.With(logger.Component("waker"))
	return w
}

// Wake asks for message id to be dispatched now. It never blocks on the
// dispatch itself.
func (w *Waker) Wake(ctx context.Context, id int64) {
	w.fire(WithOrigin(ctx, OriginItem), TriggerRequest{ID: id})
}

// WakeSweep asks for a batch sweep now.
func (w *Waker) WakeSweep(ctx context.Context) {
	w.fire(WithOrigin(ctx, OriginSweep), TriggerRequest{Sweep: true})
}

// ScheduleFallback arms a one-off sweep at at, replacing any outstanding one.
func (w *Waker) ScheduleFallback(ctx context.Context, at time.Time) error {
	if err := w.scheduler.ScheduleOnce(FallbackJobName, at, w.sweepJob(OriginFallback)); err != nil {
		return err
	}
	w.logger.DebugContext(ctx, "fallback sweep scheduled", slog.Time("at", at))
	return nil
}

// Rearm arms a fallback sweep at at unless an earlier one is already
// outstanding.
func (w *Waker) Rearm(ctx context.Context, at time.Time) error {
	if next, ok := w.scheduler.Next(FallbackJobName); ok && !next.After(at) {
		return nil
	}
	return w.ScheduleFallback(ctx, at)
}

// NextFallback returns when the outstanding fallback sweep fires.
func (w *Waker) NextFallback() (time.Time, bool) {
	return w.scheduler.Next(FallbackJobName)
}

// Wait blocks until in-flight wakes have returned.
func (w *Waker) Wait() {
	w.jobs.Wait()
}

// Stop drops wakes fired from now on and waits for in-flight ones.
func (w *Waker) Stop() {
	w.jobs.Close()
}

func (w *Waker) sweepJob(origin Origin) Job {
	return func(ctx context.Context) {
		ctx = WithOrigin(ctx, origin)
		if err := w.invoker.Invoke(ctx, TriggerRequest{Sweep: true}, true); err != nil {
			w.logger.ErrorContext(ctx, "scheduled sweep failed", logger.Error(err))
		}
	}
}

func (w *Waker) fire(ctx context.Context, req TriggerRequest) {
	ctx = context.WithoutCancel(ctx)
	started := w.jobs.Go(func() {
		var err error
		if w.triggerURL == "" {
			err = w.invoker.Invoke(ctx, req, true)
		} else {
			err = w.post(ctx, req)
		}
		if err == nil {
			return
		}

		at := w.now().Add(w.fallbackDelay)
		w.logger.WarnContext(ctx, "wake failed, scheduling fallback",
			logger.MessageID(req.ID),
			slog.Time("fallback_at", at),
			logger.Error(err),
		)
		if err := w.ScheduleFallback(ctx, at); err != nil {
			w.logger.ErrorContext(ctx, "failed to schedule fallback sweep", logger.Error(err))
		}
	})
	if !started {
		w.logger.InfoContext(ctx, "waker stopped, wake dropped", logger.MessageID(req.ID))
	}
}

func (w *Waker) post(ctx context.Context, req TriggerRequest) error {
	req.Secret = w.secret
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.triggerURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTriggerUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "mailqueue-waker/1.0")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTriggerUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: trigger returned status %d", ErrTriggerUnreachable, resp.StatusCode)
	}
	return nil
}

var _ FallbackScheduler = (*Waker)(nil)
