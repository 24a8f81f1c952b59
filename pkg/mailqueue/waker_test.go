package mailqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

type invocation struct {
	req     mailqueue.TriggerRequest
	trusted bool
	origin  mailqueue.Origin
}

type recordingInvoker struct {
	mu    sync.Mutex
	calls []invocation
}

func (r *recordingInvoker) Invoke(ctx context.Context, req mailqueue.TriggerRequest, trusted bool) error {
	origin, _ := mailqueue.OriginFromContext(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invocation{req: req, trusted: trusted, origin: origin})
	return nil
}

func (r *recordingInvoker) Calls() []invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]invocation(nil), r.calls...)
}

func TestWaker_InProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("wake invokes item dispatch", func(t *testing.T) {
		t.Parallel()
		inv := &recordingInvoker{}
		w := mailqueue.NewWaker(newManualScheduler(), inv, mailqueue.WithWakerLogger(discardLogger()))

		w.Wake(ctx, 42)
		w.Wait()

		calls := inv.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, int64(42), calls[0].req.ID)
		assert.True(t, calls[0].trusted)
		assert.Equal(t, mailqueue.OriginItem, calls[0].origin)
	})

	t.Run("sweep wake", func(t *testing.T) {
		t.Parallel()
		inv := &recordingInvoker{}
		w := mailqueue.NewWaker(newManualScheduler(), inv, mailqueue.WithWakerLogger(discardLogger()))

		w.WakeSweep(ctx)
		w.Wait()

		calls := inv.Calls()
		require.Len(t, calls, 1)
		assert.True(t, calls[0].req.Sweep)
		assert.Equal(t, mailqueue.OriginSweep, calls[0].origin)
	})

	t.Run("wake survives caller cancellation", func(t *testing.T) {
		t.Parallel()
		inv := &recordingInvoker{}
		w := mailqueue.NewWaker(newManualScheduler(), inv, mailqueue.WithWakerLogger(discardLogger()))

		cctx, cancel := context.WithCancel(ctx)
		w.Wake(cctx, 1)
		cancel()
		w.Wait()
		assert.Len(t, inv.Calls(), 1)
	})

	t.Run("failed dispatch arms the fallback sweep", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		sched := newManualScheduler()
		inv := mailqueue.InvokerFunc(func(context.Context, mailqueue.TriggerRequest, bool) error {
			return errors.New("store unavailable")
		})
		w := mailqueue.NewWaker(sched, inv,
			mailqueue.WithFallbackDelay(30*time.Second),
			mailqueue.WithWakerClock(clock.Now),
			mailqueue.WithWakerLogger(discardLogger()),
		)

		w.Wake(ctx, 3)
		w.Wait()

		at, ok := w.NextFallback()
		require.True(t, ok)
		assert.Equal(t, clock.Now().Add(30*time.Second), at)
	})

	t.Run("successful dispatch leaves no fallback", func(t *testing.T) {
		t.Parallel()
		w := mailqueue.NewWaker(newManualScheduler(), &recordingInvoker{}, mailqueue.WithWakerLogger(discardLogger()))

		w.Wake(ctx, 3)
		w.Wait()

		_, ok := w.NextFallback()
		assert.False(t, ok)
	})

	t.Run("stopped waker drops wakes", func(t *testing.T) {
		t.Parallel()
		inv := &recordingInvoker{}
		w := mailqueue.NewWaker(newManualScheduler(), inv, mailqueue.WithWakerLogger(discardLogger()))

		w.Wake(ctx, 1)
		w.Stop()
		w.Wake(ctx, 2)
		w.WakeSweep(ctx)
		w.Wait()

		calls := inv.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, int64(1), calls[0].req.ID)
	})
}

func TestWaker_HTTP(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("posts id and secret", func(t *testing.T) {
		t.Parallel()
		var got mailqueue.TriggerRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		t.Cleanup(srv.Close)

		sched := newManualScheduler()
		inv := &recordingInvoker{}
		w := mailqueue.NewWaker(sched, inv,
			mailqueue.WithTriggerURL(srv.URL, testSecret),
			mailqueue.WithWakerLogger(discardLogger()),
		)

		w.Wake(ctx, 7)
		w.Wait()

		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, testSecret, got.Secret)
		assert.Empty(t, inv.Calls())
		_, ok := w.NextFallback()
		assert.False(t, ok)
	})

	t.Run("redirect schedules a fallback and is not followed", func(t *testing.T) {
		t.Parallel()
		var followed atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/trigger", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/login", http.StatusFound)
		})
		mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
			followed.Add(1)
		})
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)

		clock := newFakeClock()
		w := mailqueue.NewWaker(newManualScheduler(), &recordingInvoker{},
			mailqueue.WithTriggerURL(srv.URL+"/trigger", testSecret),
			mailqueue.WithWakerClock(clock.Now),
			mailqueue.WithWakerLogger(discardLogger()),
		)

		w.Wake(ctx, 1)
		w.Wait()

		at, ok := w.NextFallback()
		require.True(t, ok)
		assert.Equal(t, clock.Now().Add(30*time.Second), at)
		assert.Zero(t, followed.Load())
	})

	t.Run("unreachable trigger schedules a fallback", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		clock := newFakeClock()
		w := mailqueue.NewWaker(newManualScheduler(), &recordingInvoker{},
			mailqueue.WithTriggerURL(addr, testSecret),
			mailqueue.WithFallbackDelay(time.Minute),
			mailqueue.WithWakeTimeout(time.Second),
			mailqueue.WithWakerClock(clock.Now),
			mailqueue.WithWakerLogger(discardLogger()),
		)

		w.WakeSweep(ctx)
		w.Wait()

		at, ok := w.NextFallback()
		require.True(t, ok)
		assert.Equal(t, clock.Now().Add(time.Minute), at)
	})
}

func TestWaker_Fallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("new fallback replaces the previous one", func(t *testing.T) {
		t.Parallel()
		w := mailqueue.NewWaker(newManualScheduler(), &recordingInvoker{}, mailqueue.WithWakerLogger(discardLogger()))

		require.NoError(t, w.ScheduleFallback(ctx, base.Add(time.Hour)))
		require.NoError(t, w.ScheduleFallback(ctx, base.Add(5*time.Minute)))

		at, ok := w.NextFallback()
		require.True(t, ok)
		assert.Equal(t, base.Add(5*time.Minute), at)
	})

	t.Run("rearm only moves the fallback earlier", func(t *testing.T) {
		t.Parallel()
		w := mailqueue.NewWaker(newManualScheduler(), &recordingInvoker{}, mailqueue.WithWakerLogger(discardLogger()))

		require.NoError(t, w.Rearm(ctx, base.Add(10*time.Minute)))
		require.NoError(t, w.Rearm(ctx, base.Add(20*time.Minute)))
		at, _ := w.NextFallback()
		assert.Equal(t, base.Add(10*time.Minute), at)

		require.NoError(t, w.Rearm(ctx, base.Add(5*time.Minute)))
		at, _ = w.NextFallback()
		assert.Equal(t, base.Add(5*time.Minute), at)
	})

	t.Run("fallback job runs a trusted sweep", func(t *testing.T) {
		t.Parallel()
		sched := newManualScheduler()
		inv := &recordingInvoker{}
		w := mailqueue.NewWaker(sched, inv, mailqueue.WithWakerLogger(discardLogger()))

		require.NoError(t, w.ScheduleFallback(ctx, base))
		require.True(t, sched.Run(ctx, mailqueue.FallbackJobName))

		calls := inv.Calls()
		require.Len(t, calls, 1)
		assert.True(t, calls[0].req.Sweep)
		assert.True(t, calls[0].trusted)
		assert.Equal(t, mailqueue.OriginFallback, calls[0].origin)
		_, ok := w.NextFallback()
		assert.False(t, ok)
	})
}
