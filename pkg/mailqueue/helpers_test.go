package mailqueue_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedMailer records every send and fails according to fail.
type scriptedMailer struct {
	mu    sync.Mutex
	calls []email.SendEmailParams
	ctxs  []context.Context
	fail  func(call int, p email.SendEmailParams) error
}

func (m *scriptedMailer) SendEmail(ctx context.Context, p email.SendEmailParams) error {
	m.mu.Lock()
	m.calls = append(m.calls, p)
	m.ctxs = append(m.ctxs, ctx)
	n := len(m.calls)
	fail := m.fail
	m.mu.Unlock()

	if fail != nil {
		return fail(n, p)
	}
	return nil
}

func (m *scriptedMailer) setFail(fail func(call int, p email.SendEmailParams) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *scriptedMailer) Calls() []email.SendEmailParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.SendEmailParams(nil), m.calls...)
}

// Deliveries returns sends that were not failure alerts.
func (m *scriptedMailer) Deliveries() []email.SendEmailParams {
	var out []email.SendEmailParams
	for _, c := range m.Calls() {
		if c.Subject != mailqueue.AlertSubject {
			out = append(out, c)
		}
	}
	return out
}

func (m *scriptedMailer) Alerts() []email.SendEmailParams {
	var out []email.SendEmailParams
	for _, c := range m.Calls() {
		if c.Subject == mailqueue.AlertSubject {
			out = append(out, c)
		}
	}
	return out
}

func failWith(err error) func(int, email.SendEmailParams) error {
	return func(int, email.SendEmailParams) error { return err }
}

type recordingFallback struct {
	mu  sync.Mutex
	ats []time.Time
}

func (f *recordingFallback) ScheduleFallback(_ context.Context, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ats = append(f.ats, at)
	return nil
}

func (f *recordingFallback) Last() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ats) == 0 {
		return time.Time{}, false
	}
	return f.ats[len(f.ats)-1], true
}

func (f *recordingFallback) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ats)
}

type recordingSignaler struct {
	mu     sync.Mutex
	ids    []int64
	sweeps int
}

func (s *recordingSignaler) Wake(_ context.Context, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
}

func (s *recordingSignaler) WakeSweep(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
}

func (s *recordingSignaler) Woken() ([]int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...), s.sweeps
}

// manualScheduler records entries and runs them only on demand.
type manualScheduler struct {
	mu      sync.Mutex
	entries map[string]manualEntry
}

type manualEntry struct {
	at       time.Time
	schedule mailqueue.Schedule
	job      mailqueue.Job
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{entries: make(map[string]manualEntry)}
}

func (s *manualScheduler) ScheduleOnce(name string, at time.Time, job mailqueue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = manualEntry{at: at, job: job}
	return nil
}

func (s *manualScheduler) ScheduleRecurring(name string, schedule mailqueue.Schedule, job mailqueue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = manualEntry{at: schedule.Next(time.Now()), schedule: schedule, job: job}
	return nil
}

func (s *manualScheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	return ok
}

func (s *manualScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e.at, ok
}

// Run executes the named job once, removing it if it is a one-off.
func (s *manualScheduler) Run(ctx context.Context, name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok && e.schedule == nil {
		delete(s.entries, name)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.job(ctx)
	return true
}

type harness struct {
	clock      *fakeClock
	repo       *mailqueue.MemoryStorage
	state      *mailqueue.MemoryState
	mailer     *scriptedMailer
	breaker    *mailqueue.CircuitBreaker
	lease      *mailqueue.Lease
	fallback   *recordingFallback
	dispatcher *mailqueue.Dispatcher
}

func newHarness(t *testing.T, breakerOpts []mailqueue.BreakerOption, opts ...mailqueue.DispatcherOption) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		repo:     mailqueue.NewMemoryStorage(),
		mailer:   &scriptedMailer{},
		fallback: &recordingFallback{},
	}
	h.state = mailqueue.NewMemoryState(h.clock.Now)

	cache := mailqueue.NewFailedCountCache(h.repo, h.state, "mq:failed_count", 5*time.Minute)
	h.breaker = mailqueue.NewCircuitBreaker(h.state, cache, h.mailer, append([]mailqueue.BreakerOption{
		mailqueue.WithPauseKey("mq:paused"),
		mailqueue.WithAlert(mailqueue.AlertConfig{
			Recipients:  []string{"ops@example.com"},
			SettingsURL: "https://example.com/settings",
			QueueURL:    "https://example.com/queue",
		}),
		mailqueue.WithBreakerLogger(discardLogger()),
	}, breakerOpts...)...)
	h.lease = mailqueue.NewLease(h.state, "mq:lease", 5*time.Minute)

	d, err := mailqueue.NewDispatcher(h.repo, h.mailer, h.breaker, h.lease, append([]mailqueue.DispatcherOption{
		mailqueue.WithClock(h.clock.Now),
		mailqueue.WithFallbackScheduler(h.fallback),
		mailqueue.WithDispatcherLogger(discardLogger()),
	}, opts...)...)
	require.NoError(t, err)
	h.dispatcher = d
	return h
}

// insert stores a pending message due now, created now.
func (h *harness) insert(t *testing.T, to string, mutate ...func(*mailqueue.Message)) int64 {
	t.Helper()
	now := h.clock.Now()
	msg := &mailqueue.Message{
		Recipients:  []string{to},
		Subject:     "subject for " + to,
		Body:        "body",
		Status:      mailqueue.StatusPending,
		NextAttempt: now,
		CreatedAt:   now,
	}
	for _, fn := range mutate {
		fn(msg)
	}
	id, err := h.repo.Insert(context.Background(), msg)
	require.NoError(t, err)
	return id
}

func (h *harness) get(t *testing.T, id int64) *mailqueue.Message {
	t.Helper()
	msg, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return msg
}
