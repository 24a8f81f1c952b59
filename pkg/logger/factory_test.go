package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/logger"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		opts  []logger.Option
		check func(t *testing.T, buf *bytes.Buffer)
	}{
		{
			name: "json by default",
			check: func(t *testing.T, buf *bytes.Buffer) {
				entry := decode(t, buf)
				assert.Equal(t, "INFO", entry["level"])
				assert.Equal(t, "message sent", entry["msg"])
				assert.EqualValues(t, 42, entry["message_id"])
			},
		},
		{
			name: "last formatter wins",
			opts: []logger.Option{logger.WithJSONFormatter(), logger.WithTextFormatter()},
			check: func(t *testing.T, buf *bytes.Buffer) {
				assert.Contains(t, buf.String(), "msg=\"message sent\"")
				assert.Contains(t, buf.String(), "message_id=42")
			},
		},
		{
			name: "static attributes",
			opts: []logger.Option{logger.WithAttr(slog.String("component", "dispatcher"))},
			check: func(t *testing.T, buf *bytes.Buffer) {
				assert.Equal(t, "dispatcher", decode(t, buf)["component"])
			},
		},
		{
			name: "level filters",
			opts: []logger.Option{logger.WithLevel(slog.LevelWarn)},
			check: func(t *testing.T, buf *bytes.Buffer) {
				assert.Empty(t, buf.String())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log := logger.New(append([]logger.Option{logger.WithOutput(buf)}, tt.opts...)...)
			require.NotNil(t, log)
			log.Info("message sent", logger.MessageID(42))
			tt.check(t, buf)
		})
	}
}

func TestContextExtractors(t *testing.T) {
	t.Run("dispatch origin", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(nil, mailqueue.OriginExtractor),
		)

		ctx := mailqueue.WithOrigin(context.Background(), mailqueue.OriginFallback)
		log.InfoContext(ctx, "sweep finished")
		assert.Equal(t, "fallback", decode(t, buf)["origin"])
	})

	t.Run("absent value adds nothing", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(mailqueue.OriginExtractor),
		)

		log.InfoContext(context.Background(), "sweep finished")
		_, ok := decode(t, buf)["origin"]
		assert.False(t, ok)
	})

	t.Run("extractors survive With", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(mailqueue.OriginExtractor),
		).With(logger.Component("waker"))

		log.InfoContext(mailqueue.WithOrigin(context.Background(), mailqueue.OriginItem), "wake sent")
		entry := decode(t, buf)
		assert.Equal(t, "item", entry["origin"])
		assert.Equal(t, "waker", entry["component"])
	})
}

func TestSetAsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decode(t, buf)["msg"])
}

func TestWithFormatPanics(t *testing.T) {
	assert.Panics(t, func() {
		logger.New(logger.WithFormat(logger.Format("xml")))
	})
}
