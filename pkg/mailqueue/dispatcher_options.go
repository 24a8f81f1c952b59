package mailqueue

import (
	"log/slog"
	"time"
)

// DispatcherOption is a functional option for configuring a dispatcher
type DispatcherOption func(*Dispatcher)

// WithRetryPolicy sets the retry delays.
func WithRetryPolicy(p RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) {
		d.policy = RetryPolicy{Intervals: append([]time.Duration(nil), p.Intervals...)}
	}
}

// WithBatchSize sets how many due messages a sweep selects.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithBatchBudget sets the cooperative wall-clock budget of a sweep.
func WithBatchBudget(budget time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if budget > 0 {
			d.budget = budget
		}
	}
}

// WithGraceWindow sets how long a sweep leaves freshly enqueued messages
// to their immediate wake.
func WithGraceWindow(grace time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if grace >= 0 {
			d.grace = grace
		}
	}
}

// WithFallbackScheduler sets where fallback sweeps are armed.
func WithFallbackScheduler(f FallbackScheduler) DispatcherOption {
	return func(d *Dispatcher) {
		d.fallback = f
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}
