package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "POLL_INTERVAL", "LOGIN_STORE", "TIMEZONE", "CORS_ORIGINS", "RATE_LIMIT_PER_MIN"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, "memory", cfg.LoginStore)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Nil(t, cfg.CORSOrigins)
	assert.Empty(t, cfg.Warnings)
	assert.False(t, cfg.Production())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("LOGIN_STORE", "REDIS")
	t.Setenv("TIMEZONE", "Europe/Istanbul")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("RATE_LIMIT_PER_MIN", "10")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "redis", cfg.LoginStore)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 10, cfg.RateLimitPerMin)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Istanbul", loc.String())
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("TICK_INTERVAL", "-1s")
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("TIMEZONE", "Mars/Olympus")

	cfg := Load()
	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, "Local", cfg.Timezone)
	assert.Len(t, cfg.Warnings, 5)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ROLLCALL_TEST_KEY=from-file\nHTTP_PORT=9999\n"), 0o600))

	t.Setenv("HTTP_PORT", "7000")
	t.Setenv("ROLLCALL_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("ROLLCALL_TEST_KEY"))

	require.NoError(t, LoadDotenv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("ROLLCALL_TEST_KEY"))
	assert.Equal(t, "7000", Load().HTTPPort)
}
