package mailqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	t.Run("default policy", func(t *testing.T) {
		t.Parallel()
		p := mailqueue.DefaultRetryPolicy()
		assert.Equal(t, 3, p.MaxAttempts())
		assert.Equal(t, 5*time.Minute, p.Delay(1))
		assert.Equal(t, time.Hour, p.Delay(2))
	})

	t.Run("exhaustion", func(t *testing.T) {
		t.Parallel()
		p := mailqueue.DefaultRetryPolicy()
		assert.False(t, p.Exhausted(0))
		assert.False(t, p.Exhausted(2))
		assert.True(t, p.Exhausted(3))
		assert.True(t, p.Exhausted(4))
	})

	t.Run("delay clamps out of range attempts", func(t *testing.T) {
		t.Parallel()
		p := mailqueue.DefaultRetryPolicy()
		assert.Equal(t, 5*time.Minute, p.Delay(0))
		assert.Equal(t, time.Hour, p.Delay(10))
		assert.Zero(t, mailqueue.RetryPolicy{}.Delay(1))
	})

	t.Run("empty policy allows a single attempt", func(t *testing.T) {
		t.Parallel()
		p, err := mailqueue.NewRetryPolicy()
		require.NoError(t, err)
		assert.Equal(t, 1, p.MaxAttempts())
		assert.True(t, p.Exhausted(1))
	})

	t.Run("rejects non-positive intervals", func(t *testing.T) {
		t.Parallel()
		_, err := mailqueue.NewRetryPolicy(time.Minute, 0)
		assert.ErrorIs(t, err, mailqueue.ErrInvalidRetryPolicy)
	})

	t.Run("defaults are not shared", func(t *testing.T) {
		t.Parallel()
		p := mailqueue.DefaultRetryPolicy()
		p.Intervals[0] = time.Second
		assert.Equal(t, 5*time.Minute, mailqueue.DefaultRetryPolicy().Intervals[0])
	})
}

func TestExponentialIntervals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		initial    time.Duration
		max        time.Duration
		multiplier float64
		n          int
		want       []time.Duration
	}{
		{
			name:       "doubling",
			initial:    time.Minute,
			multiplier: 2,
			n:          4,
			want:       []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute},
		},
		{
			name:       "capped",
			initial:    time.Minute,
			max:        3 * time.Minute,
			multiplier: 2,
			n:          3,
			want:       []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute},
		},
		{
			name: "zero count",
			n:    0,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, mailqueue.ExponentialIntervals(tt.initial, tt.max, tt.multiplier, tt.n))
		})
	}
}
