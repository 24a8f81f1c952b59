package mailqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

type engine struct {
	q      *mailqueue.Queue
	repo   *mailqueue.MemoryStorage
	mailer *scriptedMailer
	sched  *manualScheduler
	clock  *fakeClock
}

func newEngine(t *testing.T, mutate ...func(*mailqueue.Config)) *engine {
	t.Helper()
	e := &engine{
		repo:   mailqueue.NewMemoryStorage(),
		mailer: &scriptedMailer{},
		sched:  newManualScheduler(),
		clock:  newFakeClock(),
	}
	cfg := mailqueue.DefaultConfig()
	cfg.AlertEmails = []string{"ops@example.com"}
	for _, fn := range mutate {
		fn(&cfg)
	}
	q, err := mailqueue.New(cfg, e.repo, mailqueue.NewMemoryState(e.clock.Now), e.mailer,
		mailqueue.WithScheduler(e.sched),
		mailqueue.WithNow(e.clock.Now),
		mailqueue.WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	e.q = q
	return e
}

func TestNew(t *testing.T) {
	t.Parallel()

	repo := mailqueue.NewMemoryStorage()
	state := mailqueue.NewMemoryState(nil)
	mailer := &scriptedMailer{}
	cfg := mailqueue.DefaultConfig()

	_, err := mailqueue.New(cfg, nil, state, mailer)
	assert.ErrorIs(t, err, mailqueue.ErrRepositoryNil)
	_, err = mailqueue.New(cfg, repo, nil, mailer)
	assert.ErrorIs(t, err, mailqueue.ErrStateNil)
	_, err = mailqueue.New(cfg, repo, state, nil)
	assert.ErrorIs(t, err, mailqueue.ErrMailerNil)

	bad := cfg
	bad.RetryIntervals = []time.Duration{-time.Second}
	_, err = mailqueue.New(bad, repo, state, mailer)
	assert.ErrorIs(t, err, mailqueue.ErrInvalidRetryPolicy)

	short := cfg
	short.LeaseTTL = 10 * time.Second
	_, err = mailqueue.New(short, repo, state, mailer)
	assert.ErrorIs(t, err, mailqueue.ErrLeaseTTLTooShort)

	equal := cfg
	equal.LeaseTTL = cfg.BatchBudget
	_, err = mailqueue.New(equal, repo, state, mailer)
	assert.ErrorIs(t, err, mailqueue.ErrLeaseTTLTooShort)

	q, err := mailqueue.New(cfg, repo, state, mailer, mailqueue.WithLogger(discardLogger()))
	require.NoError(t, err)
	assert.Equal(t, 3, q.Dispatcher().Policy().MaxAttempts())
}

func TestQueue_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("enqueue is delivered by the immediate wake", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t)

		id, err := e.q.Enqueue(ctx, email.SendEmailParams{To: []string{"user@example.com"}, Subject: "Welcome", Body: "Hi"})
		require.NoError(t, err)
		e.q.Waker().Wait()

		msg, err := e.q.Admin().View(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mailqueue.StatusSent, msg.Status)
		assert.Zero(t, msg.Attempts)

		all, err := e.repo.List(ctx, mailqueue.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("queueing sender routes through the queue", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t)

		require.NoError(t, e.q.Sender().SendEmail(ctx, email.SendEmailParams{To: []string{"user@example.com"}, Subject: "Hi"}))
		e.q.Waker().Wait()

		calls := e.mailer.Deliveries()
		require.Len(t, calls, 1)
		n, err := e.repo.Count(ctx, mailqueue.StatusSent)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("failed wake delivery is recovered by the fallback sweep", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t)
		e.mailer.setFail(failWith(errSMTPDown))
		start := e.clock.Now()

		id, err := e.q.Enqueue(ctx, email.SendEmailParams{To: []string{"user@example.com"}, Subject: "Retry me"})
		require.NoError(t, err)
		e.q.Waker().Wait()

		at, ok := e.q.Waker().NextFallback()
		require.True(t, ok)
		assert.Equal(t, start.Add(5*time.Minute), at)

		e.mailer.setFail(nil)
		e.clock.Advance(5 * time.Minute)
		require.True(t, e.sched.Run(ctx, mailqueue.FallbackJobName))

		msg, err := e.q.Admin().View(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mailqueue.StatusSent, msg.Status)
		assert.Equal(t, 1, msg.Attempts)
	})

	t.Run("periodic run re-arms for leftover work", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t)
		e.mailer.setFail(failWith(errSMTPDown))
		now := e.clock.Now()
		_, err := e.repo.Insert(ctx, &mailqueue.Message{
			Recipients:  []string{"user@example.com"},
			Status:      mailqueue.StatusPending,
			NextAttempt: now.Add(-time.Minute),
			CreatedAt:   now.Add(-time.Minute),
		})
		require.NoError(t, err)

		e.q.RunPeriodic(ctx)

		at, ok := e.q.Waker().NextFallback()
		require.True(t, ok)
		assert.Equal(t, now.Add(5*time.Minute), at)
	})

	t.Run("daily run cleans up and re-arms sooner", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t)
		now := e.clock.Now()
		_, err := e.repo.Insert(ctx, &mailqueue.Message{
			Recipients: []string{"old@example.com"},
			Status:     mailqueue.StatusSent,
			CreatedAt:  now.Add(-10 * 24 * time.Hour),
		})
		require.NoError(t, err)
		_, err = e.repo.Insert(ctx, &mailqueue.Message{
			Recipients:  []string{"user@example.com"},
			Status:      mailqueue.StatusPending,
			NextAttempt: now.Add(-time.Hour),
			CreatedAt:   now.Add(-time.Hour),
		})
		require.NoError(t, err)

		e.q.RunDaily(ctx)

		n, err := e.repo.Count(ctx, mailqueue.StatusSent)
		require.NoError(t, err)
		assert.Zero(t, n)
		at, ok := e.q.Waker().NextFallback()
		require.True(t, ok)
		assert.Equal(t, now.Add(30*time.Second), at)
	})

	t.Run("start registers jobs and returns on cancel", func(t *testing.T) {
		t.Parallel()
		e := newEngine(t)
		cctx, cancel := context.WithCancel(ctx)

		done := make(chan error, 1)
		go func() { done <- e.q.Start(cctx) }()

		require.Eventually(t, func() bool {
			_, periodic := e.sched.Next(mailqueue.PeriodicJobName)
			_, cleanup := e.sched.Next(mailqueue.CleanupJobName)
			return periodic && cleanup
		}, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("queue did not stop")
		}
		_, ok := e.sched.Next(mailqueue.PeriodicJobName)
		assert.False(t, ok)
	})
}
