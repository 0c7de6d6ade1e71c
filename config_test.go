package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ADMIN_USER", "ADMIN_PASS", "KEEPALIVE_CONFIG", "KEEPALIVE_ADDR",
		"KEEPALIVE_DB", "KEEPALIVE_STATIC", "KEEPALIVE_LOG_LEVEL", "KEEPALIVE_JWT_SECRET",
		"KEEPALIVE_TOKEN_TTL", "KEEPALIVE_TICK_INTERVAL", "KEEPALIVE_CONFIRM_TIMEOUT",
		"KEEPALIVE_RETRY_BACKOFF", "KEEPALIVE_COOLDOWN", "KEEPALIVE_MAX_ATTEMPTS",
	} {
		t.Setenv(key, "")
	}
	// keep a developer's .env out of the test
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keepalive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "keepalive.db", cfg.DBPath)
	assert.Equal(t, "admin", cfg.AdminUser)
	assert.Equal(t, "admin123", cfg.AdminPass)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Len(t, cfg.JWTSecret, 64, "a random secret is generated")
	assert.Equal(t, 5*time.Second, cfg.Timing.TickInterval)
	assert.Equal(t, 2, cfg.Timing.MaxAttempts)
}

func TestLoadConfigPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadConfigEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_USER", "ops")
	t.Setenv("ADMIN_PASS", "hunter2")
	t.Setenv("KEEPALIVE_COOLDOWN", "45s")
	t.Setenv("KEEPALIVE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.AdminUser)
	assert.Equal(t, "hunter2", cfg.AdminPass)
	assert.Equal(t, 45*time.Second, cfg.Timing.Cooldown)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
listen: ":9000"
db: /var/lib/keepalive.db
log_level: warn
admin:
  user: root
  jwt_secret: s3cret
scheduler:
  tick_interval: 2s
  confirm_timeout: 20s
  max_attempts: 5
`)

	cfg, err := LoadConfig([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/keepalive.db", cfg.DBPath)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "root", cfg.AdminUser)
	assert.Equal(t, "admin123", cfg.AdminPass)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.Timing.TickInterval)
	assert.Equal(t, 20*time.Second, cfg.Timing.ConfirmTimeout)
	assert.Equal(t, 5, cfg.Timing.MaxAttempts)
}

func TestLoadConfigPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
listen: ":9000"
admin:
  user: root
scheduler:
  cooldown: 10s
`)
	t.Setenv("ADMIN_USER", "env-user")

	cfg, err := LoadConfig([]string{"-config", path, "-addr", ":7000"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr, "flag beats file")
	assert.Equal(t, "env-user", cfg.AdminUser, "env beats file")
	assert.Equal(t, 10*time.Second, cfg.Timing.Cooldown, "file beats default")
}

func TestLoadConfigErrors(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig([]string{"-log-level", "loud"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = LoadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "read config")

	path := writeFile(t, "scheduler:\n  tick_interval: soon\n")
	_, err = LoadConfig([]string{"-config", path})
	assert.ErrorContains(t, err, "tick-interval")

	_, err = LoadConfig([]string{"-no-such-flag"})
	assert.Error(t, err)
}
