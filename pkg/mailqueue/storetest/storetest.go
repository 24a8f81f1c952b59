// Package storetest provides a behavioural test suite shared by every
// mailqueue.Repository implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/email"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

// Factory returns an empty repository. Subtests run sequentially, so a
// factory backed by a shared database may truncate instead of recreating.
type Factory func(t *testing.T) mailqueue.Repository

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the Repository contract against repositories from newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Helper()
	ctx := context.Background()

	insert := func(t *testing.T, r mailqueue.Repository, status mailqueue.Status, next, created time.Time) int64 {
		t.Helper()
		id, err := r.Insert(ctx, &mailqueue.Message{
			Recipients:  []string{"a@example.com"},
			Subject:     "subject",
			Body:        "body",
			Status:      status,
			NextAttempt: next,
			CreatedAt:   created,
		})
		require.NoError(t, err)
		return id
	}

	t.Run("insert and get", func(t *testing.T) {
		r := newRepo(t)
		msg := &mailqueue.Message{
			Recipients:  []string{"a@example.com", "b@example.com"},
			Subject:     "Hello",
			Body:        "line one\nline two",
			Headers:     email.Headers{{Name: "Reply-To", Value: "c@example.com"}, {Name: "X-Tag", Value: "1"}},
			NextAttempt: base,
			CreatedAt:   base,
		}
		id1, err := r.Insert(ctx, msg)
		require.NoError(t, err)
		id2, err := r.Insert(ctx, msg)
		require.NoError(t, err)
		assert.Greater(t, id2, id1)

		got, err := r.Get(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, id1, got.ID)
		assert.Equal(t, msg.Recipients, got.Recipients)
		assert.Equal(t, "Hello", got.Subject)
		assert.Equal(t, "line one\nline two", got.Body)
		assert.Equal(t, msg.Headers, got.Headers)
		assert.Equal(t, mailqueue.StatusPending, got.Status)
		assert.Zero(t, got.Attempts)
		assert.Empty(t, got.Error)
		assert.True(t, base.Equal(got.NextAttempt), "next attempt %s", got.NextAttempt)
		assert.True(t, base.Equal(got.CreatedAt), "created at %s", got.CreatedAt)

		_, err = r.Get(ctx, id2+100)
		assert.ErrorIs(t, err, mailqueue.ErrMessageNotFound)
	})

	t.Run("list due orders by next attempt", func(t *testing.T) {
		r := newRepo(t)
		late := insert(t, r, mailqueue.StatusPending, base.Add(-time.Minute), base)
		early := insert(t, r, mailqueue.StatusPending, base.Add(-time.Hour), base)
		insert(t, r, mailqueue.StatusPending, base.Add(time.Minute), base)
		insert(t, r, mailqueue.StatusSent, base.Add(-2*time.Hour), base)
		atNow := insert(t, r, mailqueue.StatusPending, base, base)

		due, err := r.ListDue(ctx, mailqueue.ListOptions{Status: mailqueue.StatusPending, DueBefore: base})
		require.NoError(t, err)
		require.Len(t, due, 3)
		assert.Equal(t, []int64{early, late, atNow}, []int64{due[0].ID, due[1].ID, due[2].ID})

		due, err = r.ListDue(ctx, mailqueue.ListOptions{Status: mailqueue.StatusPending, DueBefore: base, Limit: 1})
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, early, due[0].ID)

		all, err := r.ListDue(ctx, mailqueue.ListOptions{Status: mailqueue.StatusPending})
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("update applies only set fields", func(t *testing.T) {
		r := newRepo(t)
		id := insert(t, r, mailqueue.StatusPending, base, base)

		attempts := 2
		errText := "451 try later"
		require.NoError(t, r.Update(ctx, id, mailqueue.MessageUpdate{Attempts: &attempts, Error: &errText}))

		got, err := r.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)
		assert.Equal(t, "451 try later", got.Error)
		assert.Equal(t, "subject", got.Subject)
		assert.Equal(t, mailqueue.StatusPending, got.Status)
		assert.True(t, base.Equal(got.NextAttempt))

		failed := mailqueue.StatusFailed
		var never time.Time
		require.NoError(t, r.Update(ctx, id, mailqueue.MessageUpdate{Status: &failed, NextAttempt: &never}))
		got, err = r.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mailqueue.StatusFailed, got.Status)
		assert.True(t, got.NextAttempt.IsZero())

		assert.ErrorIs(t, r.Update(ctx, id+100, mailqueue.MessageUpdate{Attempts: &attempts}), mailqueue.ErrMessageNotFound)
	})

	t.Run("conditional update", func(t *testing.T) {
		r := newRepo(t)
		id := insert(t, r, mailqueue.StatusPending, base, base)

		pending := mailqueue.StatusPending
		zero, one := 0, 1
		require.NoError(t, r.Update(ctx, id, mailqueue.MessageUpdate{
			Attempts:   &one,
			IfStatus:   &pending,
			IfAttempts: &zero,
		}))

		// A second writer holding the old snapshot loses.
		failed := mailqueue.StatusFailed
		err := r.Update(ctx, id, mailqueue.MessageUpdate{
			Status:     &failed,
			Attempts:   &one,
			IfStatus:   &pending,
			IfAttempts: &zero,
		})
		assert.ErrorIs(t, err, mailqueue.ErrStaleUpdate)

		got, err := r.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mailqueue.StatusPending, got.Status)
		assert.Equal(t, 1, got.Attempts)

		sent := mailqueue.StatusSent
		require.NoError(t, r.Update(ctx, id, mailqueue.MessageUpdate{Status: &sent}))
		assert.ErrorIs(t, r.Update(ctx, id, mailqueue.MessageUpdate{Attempts: &one, IfStatus: &pending}),
			mailqueue.ErrStaleUpdate)
		assert.ErrorIs(t, r.Update(ctx, id+100, mailqueue.MessageUpdate{Attempts: &one, IfStatus: &pending}),
			mailqueue.ErrMessageNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		r := newRepo(t)
		id := insert(t, r, mailqueue.StatusPending, base, base)

		require.NoError(t, r.Delete(ctx, id))
		assert.ErrorIs(t, r.Delete(ctx, id), mailqueue.ErrMessageNotFound)
		_, err := r.Get(ctx, id)
		assert.ErrorIs(t, err, mailqueue.ErrMessageNotFound)
	})

	t.Run("count and reset", func(t *testing.T) {
		r := newRepo(t)
		f1 := insert(t, r, mailqueue.StatusFailed, time.Time{}, base)
		insert(t, r, mailqueue.StatusFailed, time.Time{}, base)
		sent := insert(t, r, mailqueue.StatusSent, base, base)
		insert(t, r, mailqueue.StatusPending, base, base)

		n, err := r.Count(ctx, mailqueue.StatusFailed)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		attempts := 3
		errText := "boom"
		require.NoError(t, r.Update(ctx, f1, mailqueue.MessageUpdate{Attempts: &attempts, Error: &errText}))

		now := base.Add(time.Hour)
		reset, err := r.ResetStatus(ctx, mailqueue.StatusFailed, now)
		require.NoError(t, err)
		assert.EqualValues(t, 2, reset)

		got, err := r.Get(ctx, f1)
		require.NoError(t, err)
		assert.Equal(t, mailqueue.StatusPending, got.Status)
		assert.Zero(t, got.Attempts)
		assert.Empty(t, got.Error)
		assert.True(t, now.Equal(got.NextAttempt))

		reset, err = r.ResetIDs(ctx, []int64{sent, sent + 1000}, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, reset)

		n, err = r.Count(ctx, mailqueue.StatusPending)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		reset, err = r.ResetIDs(ctx, nil, now)
		require.NoError(t, err)
		assert.Zero(t, reset)
	})

	t.Run("bulk deletes", func(t *testing.T) {
		r := newRepo(t)
		old := base.Add(-8 * 24 * time.Hour)
		insert(t, r, mailqueue.StatusSent, base, old)
		insert(t, r, mailqueue.StatusFailed, time.Time{}, old)
		oldPending := insert(t, r, mailqueue.StatusPending, base, old)
		recentSent := insert(t, r, mailqueue.StatusSent, base, base)
		insert(t, r, mailqueue.StatusFailed, time.Time{}, base)

		n, err := r.DeleteTerminalBefore(ctx, base.Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		_, err = r.Get(ctx, oldPending)
		require.NoError(t, err)
		_, err = r.Get(ctx, recentSent)
		require.NoError(t, err)

		n, err = r.DeleteByStatus(ctx, mailqueue.StatusFailed)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = r.DeleteByStatus(ctx, mailqueue.StatusFailed)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("list newest first", func(t *testing.T) {
		r := newRepo(t)
		first := insert(t, r, mailqueue.StatusSent, base, base)
		second := insert(t, r, mailqueue.StatusPending, base, base)
		third := insert(t, r, mailqueue.StatusSent, base, base)

		all, err := r.List(ctx, mailqueue.ListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int64{third, second, first}, []int64{all[0].ID, all[1].ID, all[2].ID})

		sent, err := r.List(ctx, mailqueue.ListOptions{Status: mailqueue.StatusSent, Limit: 1})
		require.NoError(t, err)
		require.Len(t, sent, 1)
		assert.Equal(t, third, sent[0].ID)
	})
}
