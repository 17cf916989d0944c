package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{429, 418}, cfg.StatusCodes)
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, "systemctl reload haproxy", cfg.ReloadCommand)
	assert.True(t, cfg.SafetyWhitelist)
	assert.False(t, cfg.Preview)
	assert.False(t, cfg.BanCache)
}

func TestLoadFileOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_path: /srv/logs/haproxy.log
status_codes: [429]
threshold: 3
poll_interval: 250ms
reload_min_interval: 2s
log:
  level: debug
`), 0o644))

	cfg := Default()
	require.NoError(t, LoadFile(&cfg, path))

	assert.Equal(t, "/srv/logs/haproxy.log", cfg.LogPath)
	assert.Equal(t, []int{429}, cfg.StatusCodes)
	assert.Equal(t, 3, cfg.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.ReloadMinInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep defaults
	assert.Equal(t, defaultBannedPath, cfg.BannedPath)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadFileErrors(t *testing.T) {
	cfg := Default()
	err := LoadFile(&cfg, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Config))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("{{invalid yaml"), 0o644))
	err = LoadFile(&cfg, bad)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Config))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LOG_PATH", `"/tmp/access.log"`)
	t.Setenv("BANNED_FILE_PATH", "/tmp/banned.acl")
	t.Setenv("STATUS_CODES", "429,403")
	t.Setenv("BAN_THRESHOLD", "7")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("RELOAD_COMMAND", "true")
	t.Setenv("PREVIEW_MODE", "yes")
	t.Setenv("SAFETY_WHITELIST", "false")
	t.Setenv("BAN_CACHE", "1")
	t.Setenv("METRICS_ADDR", "127.0.0.1:9108")
	t.Setenv("LOG_FORMAT", "json")

	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg))

	assert.Equal(t, "/tmp/access.log", cfg.LogPath)
	assert.Equal(t, "/tmp/banned.acl", cfg.BannedPath)
	assert.Equal(t, []int{429, 403}, cfg.StatusCodes)
	assert.Equal(t, 7, cfg.Threshold)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "true", cfg.ReloadCommand)
	assert.True(t, cfg.Preview)
	assert.False(t, cfg.SafetyWhitelist)
	assert.True(t, cfg.BanCache)
	assert.Equal(t, "127.0.0.1:9108", cfg.MetricsAddr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, defaultWhitelistPath, cfg.WhitelistPath)
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"STATUS_CODES", "429,teapot"},
		{"BAN_THRESHOLD", "ten"},
		{"POLL_INTERVAL", "5"},
		{"RELOAD_TIMEOUT", "half a minute"},
		{"RELOAD_MIN_INTERVAL", "2x"},
		{"PREVIEW_MODE", "on"},
		{"SAFETY_WHITELIST", "off"},
		{"BAN_CACHE", "enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Default()
			err := ApplyEnv(&cfg)
			require.Error(t, err)
			assert.True(t, errkind.Is(err, errkind.Config))
			assert.Contains(t, err.Error(), tt.key)
			assert.Contains(t, err.Error(), tt.value)
		})
	}
}

func TestApplyEnvPreviewOnIsNotLiveBanning(t *testing.T) {
	t.Setenv("PREVIEW_MODE", "on")
	cfg := Default()
	require.Error(t, ApplyEnv(&cfg))
	assert.False(t, cfg.Preview, "a rejected value must not be half applied")
}

func TestApplyEnvEmptyKeepsDefaults(t *testing.T) {
	t.Setenv("BAN_THRESHOLD", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("PREVIEW_MODE", "")
	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg))
	assert.Equal(t, defaultThreshold, cfg.Threshold)
	assert.Equal(t, defaultPollInterval, cfg.PollInterval)
	assert.False(t, cfg.Preview)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	found, err := LoadDotEnv(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.False(t, found)

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BW_DOTENV_THRESHOLD=9\nBW_DOTENV_KEEP=fromfile\n"), 0o644))
	t.Setenv("BW_DOTENV_KEEP", "fromenv")
	t.Setenv("BW_DOTENV_THRESHOLD", "")
	require.NoError(t, os.Unsetenv("BW_DOTENV_THRESHOLD"))

	found, err = LoadDotEnv(path)
	require.NoError(t, err)
	assert.True(t, found)
	threshold, err := getEnvInt("BW_DOTENV_THRESHOLD", 0)
	require.NoError(t, err)
	assert.Equal(t, 9, threshold)
	assert.Equal(t, "fromenv", getEnv("BW_DOTENV_KEEP", ""), "existing variables win over the file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"empty log path", func(c *Config) { c.LogPath = "" }, "log path"},
		{"empty banned path", func(c *Config) { c.BannedPath = "" }, "banned file path"},
		{"empty whitelist path", func(c *Config) { c.WhitelistPath = "" }, "whitelist path"},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, "threshold"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll interval"},
		{"no codes", func(c *Config) { c.StatusCodes = nil }, "status code"},
		{"code out of range", func(c *Config) { c.StatusCodes = []int{429, 42} }, "outside 100-599"},
		{"empty reload command", func(c *Config) { c.ReloadCommand = "  " }, "reload command"},
		{"negative reload timeout", func(c *Config) { c.ReloadTimeout = -time.Second }, "reload timeout"},
		{"bad regex", func(c *Config) { c.LineRegex = "(" }, "line regex"},
		{"regex with one group", func(c *Config) { c.LineRegex = `(\S+) \d{3}` }, "two capture groups"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errkind.Is(err, errkind.Config))
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}

	t.Run("custom regex accepted", func(t *testing.T) {
		cfg := Default()
		cfg.LineRegex = `^(\S+) .* (\d{3}) `
		assert.NoError(t, cfg.Validate())
	})
}
