package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewklimek/mnml-smtp/pkg/config"
	"github.com/andrewklimek/mnml-smtp/pkg/mailqueue"
)

type relayConfig struct {
	Host     string        `env:"TEST_RELAY_HOST" envDefault:"localhost"`
	Port     int           `env:"TEST_RELAY_PORT" envDefault:"587"`
	Timeout  time.Duration `env:"TEST_RELAY_TIMEOUT" envDefault:"10s"`
	Domains  []string      `env:"TEST_RELAY_DOMAINS" envSeparator:","`
	Password string        `env:"TEST_RELAY_PASSWORD,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults and overrides", func(t *testing.T) {
		t.Setenv("TEST_RELAY_PORT", "465")
		t.Setenv("TEST_RELAY_DOMAINS", "example.com,example.org")
		t.Setenv("TEST_RELAY_PASSWORD", "secret")

		var cfg relayConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 465, cfg.Port)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.Equal(t, []string{"example.com", "example.org"}, cfg.Domains)
	})

	t.Run("missing required", func(t *testing.T) {
		t.Setenv("TEST_RELAY_PASSWORD", "")
		os.Unsetenv("TEST_RELAY_PASSWORD")

		var cfg relayConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[relayConfig](nil), config.ErrNilPointer)
	})

	t.Run("must load panics", func(t *testing.T) {
		t.Setenv("TEST_RELAY_PASSWORD", "")
		os.Unsetenv("TEST_RELAY_PASSWORD")
		assert.Panics(t, func() {
			var cfg relayConfig
			config.MustLoad(&cfg)
		})
	})
}

func TestLoadQueueConfig(t *testing.T) {
	t.Setenv("MAILQUEUE_RETRY_INTERVALS", "1m,10m,1h")
	t.Setenv("MAILQUEUE_FAILURE_THRESHOLD", "3")
	t.Setenv("MAILQUEUE_ALERT_EMAILS", "ops@example.com,admin@example.com")

	var cfg mailqueue.Config
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, []time.Duration{time.Minute, 10 * time.Minute, time.Hour}, cfg.RetryIntervals)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, []string{"ops@example.com", "admin@example.com"}, cfg.AlertEmails)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.PauseDuration)
}

func TestLoadAll(t *testing.T) {
	t.Run("collects every failure", func(t *testing.T) {
		t.Setenv("TEST_RELAY_PASSWORD", "")
		os.Unsetenv("TEST_RELAY_PASSWORD")
		t.Setenv("MAILQUEUE_BATCH_SIZE", "many")

		var (
			relay relayConfig
			queue mailqueue.Config
		)
		err := config.LoadAll(&relay, &queue)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
		assert.Contains(t, err.Error(), "TEST_RELAY_PASSWORD")
		assert.Contains(t, err.Error(), "BatchSize")
	})

	t.Run("nil target", func(t *testing.T) {
		assert.ErrorIs(t, config.LoadAll(nil), config.ErrNilPointer)
	})
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_ENVFILE_HOST=smtp.example.com\nTEST_ENVFILE_PORT=2525\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("TEST_ENVFILE_HOST")
		os.Unsetenv("TEST_ENVFILE_PORT")
	})
	t.Setenv("TEST_ENVFILE_PORT", "25")

	require.NoError(t, config.LoadEnv(path))
	assert.Equal(t, "smtp.example.com", os.Getenv("TEST_ENVFILE_HOST"))
	assert.Equal(t, "25", os.Getenv("TEST_ENVFILE_PORT"), "existing variables are not overridden")

	err := config.LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
}
