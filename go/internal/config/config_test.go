package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reflex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "REFLEX_ALLOWED_ORIGINS", "REFLEX_COUNTDOWN_MIN", "REFLEX_COUNTDOWN_MAX",
		"NATS_URL", "LOG_LEVEL", "LOG_PRETTY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, time.Second, cfg.Game.CountdownMin)
	assert.Equal(t, 10*time.Second, cfg.Game.CountdownMax)
	assert.Equal(t, 32, cfg.Game.MaxUsernameLength)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, zerolog.InfoLevel, cfg.Log.ZerologLevel())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: "9090"
  allowed_origins: ["https://play.example.com"]
game:
  countdown_min: 2s
  countdown_max: 5s
  max_username_length: 16
nats:
  enabled: true
  url: nats://bus:4222
log:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, []string{"https://play.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.Game.CountdownMin)
	assert.Equal(t, 5*time.Second, cfg.Game.CountdownMax)
	assert.Equal(t, 16, cfg.Game.MaxUsernameLength)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "REFLEX_ROOM_EVENTS", cfg.NATS.Stream, "unset keys keep their defaults")
	assert.Equal(t, zerolog.DebugLevel, cfg.Log.ZerologLevel())
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.ReadTimeout)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\n")

	t.Setenv("PORT", "7000")
	t.Setenv("REFLEX_ALLOWED_ORIGINS", "http://localhost:3000, https://play.example.com,")
	t.Setenv("REFLEX_COUNTDOWN_MIN", "1500")
	t.Setenv("REFLEX_COUNTDOWN_MAX", "3s")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr())
	assert.Equal(t, []string{"http://localhost:3000", "https://play.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 1500*time.Millisecond, cfg.Game.CountdownMin)
	assert.Equal(t, 3*time.Second, cfg.Game.CountdownMax)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, zerolog.WarnLevel, cfg.Log.ZerologLevel())
	assert.True(t, cfg.Log.Pretty)
}

func TestInvalidEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("REFLEX_COUNTDOWN_MIN", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFLEX_COUNTDOWN_MIN")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = "http" }, "server.port"},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }, "server.port"},
		{"zero min", func(c *Config) { c.Game.CountdownMin = 0 }, "countdown_min must be positive"},
		{"max not above min", func(c *Config) { c.Game.CountdownMax = c.Game.CountdownMin }, "must exceed countdown_min"},
		{"username length", func(c *Config) { c.Game.MaxUsernameLength = 0 }, "max_username_length"},
		{"ping after read timeout", func(c *Config) { c.WebSocket.PingInterval = 2 * c.WebSocket.ReadTimeout }, "ping_interval"},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "nats.url"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, Default().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
