package mailqueue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue/storetest"
)

func TestMemoryStorageContract(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) mailqueue.Repository {
		return mailqueue.NewMemoryStorage()
	})
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("insert assigns increasing ids and copies", func(t *testing.T) {
		t.Parallel()
		s := mailqueue.NewMemoryStorage()
		msg := &mailqueue.Message{Recipients: []string{"a@example.com"}, Headers: email.Headers{{Name: "X-A", Value: "1"}}}

		id1, err := s.Insert(ctx, msg)
		require.NoError(t, err)
		id2, err := s.Insert(ctx, msg)
		require.NoError(t, err)
		assert.Greater(t, id2, id1)

		msg.Recipients[0] = "mutated@example.com"
		got, err := s.Get(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@example.com"}, got.Recipients)
		assert.Equal(t, mailqueue.StatusPending, got.Status)

		got.Headers[0].Value = "changed"
		again, err := s.Get(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, "1", again.Headers[0].Value)

		_, err = s.Insert(ctx, nil)
		assert.Error(t, err)
	})
}

func TestStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, mailqueue.StatusPending.Valid())
	assert.False(t, mailqueue.Status("queued").Valid())
	assert.False(t, mailqueue.StatusPending.Terminal())
	assert.True(t, mailqueue.StatusSent.Terminal())
	assert.True(t, mailqueue.StatusFailed.Terminal())
	assert.Equal(t, "retry", mailqueue.OutcomeRetry.String())
}
