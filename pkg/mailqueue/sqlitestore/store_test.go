package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue/sqlitestore"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue/storetest"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) mailqueue.Repository {
		s, err := sqlitestore.Open(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty dsn", func(t *testing.T) {
		t.Parallel()
		_, err := sqlitestore.Open(ctx, "")
		assert.Error(t, err)
	})

	t.Run("file survives reopen", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "nested", "queue.db")
		created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		s, err := sqlitestore.Open(ctx, path)
		require.NoError(t, err)
		require.NoError(t, s.Healthcheck(ctx))
		id, err := s.Insert(ctx, &mailqueue.Message{
			Recipients:  []string{"a@example.com"},
			Subject:     "persisted",
			NextAttempt: created,
			CreatedAt:   created,
		})
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = sqlitestore.Open(ctx, path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "persisted", got.Subject)
		assert.Equal(t, created, got.NextAttempt)
	})

	t.Run("missing created at defaults to now", func(t *testing.T) {
		t.Parallel()
		s, err := sqlitestore.Open(ctx, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		id, err := s.Insert(ctx, &mailqueue.Message{Recipients: []string{"a@example.com"}})
		require.NoError(t, err)
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
		assert.True(t, got.NextAttempt.IsZero())
	})
}

func TestStoreDrivesQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var delivered []string
	mailer := email.SenderFunc(func(_ context.Context, p email.SendEmailParams) error {
		delivered = append(delivered, p.Subject)
		return nil
	})
	q, err := mailqueue.New(mailqueue.DefaultConfig(), s, mailqueue.NewMemoryState(time.Now), mailer)
	require.NoError(t, err)

	id, err := s.Insert(ctx, &mailqueue.Message{
		Recipients:  []string{"a@example.com"},
		Subject:     "welcome",
		NextAttempt: time.Now().Add(-time.Minute),
		CreatedAt:   time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	outcome, err := q.Dispatcher().DispatchOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.OutcomeSent, outcome)
	assert.Equal(t, []string{"welcome"}, delivered)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.StatusSent, got.Status)
}
