package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

// Job is work run by a Scheduler.
type Job func(ctx context.Context)

// Scheduler runs named one-off and recurring jobs. Scheduling a name that
// already exists replaces the previous entry, so at most one run per name
// is ever outstanding.
type Scheduler interface {
	ScheduleOnce(name string, at time.Time, job Job) error
	ScheduleRecurring(name string, schedule Schedule, job Job) error
	Cancel(name string) bool
	Next(name string) (time.Time, bool)
}

// TimerScheduler is an in-process Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	gen     uint64
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now    func() time.Time
	logger *slog.Logger
}

type timerEntry struct {
	gen      uint64
	at       time.Time
	timer    *time.Timer
	schedule Schedule // nil for one-off jobs
	job      Job
}

// SchedulerOption is a functional option for configuring a scheduler
type SchedulerOption func(*TimerScheduler)

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *TimerScheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSchedulerClock overrides the clock used to compute delays.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *TimerScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTimerScheduler creates a scheduler. Jobs run with a context that is
// cancelled by Stop.
func NewTimerScheduler(opts ...SchedulerOption) *TimerScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TimerScheduler{
		entries: make(map[string]*timerEntry),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("scheduler"))
	return s
}

// ScheduleOnce runs job once at at, replacing any entry named name.
func (s *TimerScheduler) ScheduleOnce(name string, at time.Time, job Job) error {
	return s.schedule(name, at, nil, job)
}

// ScheduleRecurring runs job on schedule until cancelled.
func (s *TimerScheduler) ScheduleRecurring(name string, schedule Schedule, job Job) error {
	if schedule == nil {
		return fmt.Errorf("schedule for %q is nil", name)
	}
	if err := s.schedule(name, schedule.Next(s.now()), schedule, job); err != nil {
		return err
	}
	s.logger.Info("registered recurring job",
		slog.String("job", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Cancel removes the named entry. It reports whether one existed.
func (s *TimerScheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, name)
	return true
}

// Next returns when the named entry fires next.
func (s *TimerScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Start blocks until ctx is done, then stops the scheduler.
func (s *TimerScheduler) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	s.logger.Info("scheduler shutting down")
	s.Stop()
	return nil
}

// Stop cancels every entry and waits for running jobs to return.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, name)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *TimerScheduler) schedule(name string, at time.Time, schedule Schedule, job Job) error {
	if job == nil {
		return fmt.Errorf("job for %q is nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler stopped, cannot schedule %q", name)
	}
	if prev, ok := s.entries[name]; ok {
		prev.timer.Stop()
	}

	s.gen++
	e := &timerEntry{gen: s.gen, at: at, schedule: schedule, job: job}
	e.timer = s.arm(name, e)
	s.entries[name] = e
	return nil
}

// arm must be called with mu held.
func (s *TimerScheduler) arm(name string, e *timerEntry) *time.Timer {
	gen := e.gen
	return time.AfterFunc(max(e.at.Sub(s.now()), 0), func() { s.fire(name, gen) })
}

func (s *TimerScheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	if e.schedule != nil {
		e.at = e.schedule.Next(s.now())
		e.timer = s.arm(name, e)
	} else {
		delete(s.entries, name)
	}
	job := e.job
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", slog.String("job", name), slog.Any("panic", r))
		}
	}()

	s.logger.Debug("running scheduled job", slog.String("job", name))
	job(s.ctx)
}
