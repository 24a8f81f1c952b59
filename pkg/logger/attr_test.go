package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("req", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "req", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	empty := logger.Errors(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	empty := logger.Error(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestDomainAttrs(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value any
	}{
		{"message id", logger.MessageID(42), "message_id", int64(42)},
		{"attempt", logger.Attempt(2), "attempt", int64(2)},
		{"max attempts", logger.MaxAttempts(3), "max_attempts", int64(3)},
		{"recipients", logger.Recipients([]string{"a@example.com", "b@example.com"}), "recipients", "a@example.com,b@example.com"},
		{"status", logger.Status("pending"), "status", "pending"},
		{"origin", logger.Origin("sweep"), "origin", "sweep"},
		{"count", logger.Count(7), "count", int64(7)},
		{"component", logger.Component("dispatcher"), "component", "dispatcher"},
		{"request id", logger.RequestID("r1"), "request_id", "r1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.value, tt.attr.Value.Any())
		})
	}

	assert.True(t, logger.RequestID(nil).Equal(slog.Attr{}))
}
