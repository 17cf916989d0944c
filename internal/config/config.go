// Package config loads the watcher settings.
//
// Sources, lowest precedence first: compiled defaults, an optional YAML file,
// a .env file, the process environment. Command-line flags are applied on top
// by the cmd package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/reload"
)

const (
	defaultLogPath       = "/var/log/haproxy.log"
	defaultBannedPath    = "/etc/haproxy/acl/banned.acl"
	defaultWhitelistPath = "/etc/haproxy/acl/whitelist.acl"
	defaultThreshold     = 5
	defaultPollInterval  = time.Second
)

var defaultStatusCodes = []int{429, 418}

// LogConfig controls the watcher's own log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Config holds every tunable of the watcher.
type Config struct {
	LogPath       string `yaml:"log_path"`
	BannedPath    string `yaml:"banned_path"`
	WhitelistPath string `yaml:"whitelist_path"`
	LineRegex     string `yaml:"line_regex"`

	StatusCodes  []int         `yaml:"status_codes"`
	Threshold    int           `yaml:"threshold"`
	PollInterval time.Duration `yaml:"poll_interval"`

	ReloadCommand     string        `yaml:"reload_command"`
	ReloadTimeout     time.Duration `yaml:"reload_timeout"`
	ReloadMinInterval time.Duration `yaml:"reload_min_interval"`

	Preview         bool   `yaml:"preview"`
	SafetyWhitelist bool   `yaml:"safety_whitelist"`
	BanCache        bool   `yaml:"ban_cache"`
	MetricsAddr     string `yaml:"metrics_addr"`

	Log LogConfig `yaml:"log"`
}

// Default returns the compiled defaults.
func Default() Config {
	return Config{
		LogPath:         defaultLogPath,
		BannedPath:      defaultBannedPath,
		WhitelistPath:   defaultWhitelistPath,
		StatusCodes:     append([]int(nil), defaultStatusCodes...),
		Threshold:       defaultThreshold,
		PollInterval:    defaultPollInterval,
		ReloadCommand:   reload.DefaultCommand,
		ReloadTimeout:   reload.DefaultTimeout,
		SafetyWhitelist: true,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errkind.E(errkind.Config, "load config", fmt.Errorf("failed to read config file %s: %w", path, err))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errkind.E(errkind.Config, "load config", fmt.Errorf("failed to parse config file %s: %w", path, err))
	}
	return nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file reports found=false.
func LoadDotEnv(path string) (found bool, err error) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errkind.E(errkind.Config, "load env file", err)
	}
	return true, nil
}

// ApplyEnv overlays environment variables onto cfg. A variable that is set
// but does not parse is a Config error naming the variable.
func ApplyEnv(cfg *Config) error {
	cfg.LogPath = getEnv("LOG_PATH", cfg.LogPath)
	cfg.BannedPath = getEnv("BANNED_FILE_PATH", cfg.BannedPath)
	cfg.WhitelistPath = getEnv("WHITE_LIST_PATH", cfg.WhitelistPath)
	cfg.LineRegex = getEnv("LINE_REGEX", cfg.LineRegex)
	cfg.ReloadCommand = getEnv("RELOAD_COMMAND", cfg.ReloadCommand)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	var err error
	if cfg.StatusCodes, err = getEnvCodes("STATUS_CODES", cfg.StatusCodes); err != nil {
		return errkind.E(errkind.Config, "STATUS_CODES", err)
	}
	if cfg.Threshold, err = getEnvInt("BAN_THRESHOLD", cfg.Threshold); err != nil {
		return errkind.E(errkind.Config, "BAN_THRESHOLD", err)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &cfg.PollInterval},
		{"RELOAD_TIMEOUT", &cfg.ReloadTimeout},
		{"RELOAD_MIN_INTERVAL", &cfg.ReloadMinInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return errkind.E(errkind.Config, d.key, err)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"PREVIEW_MODE", &cfg.Preview},
		{"SAFETY_WHITELIST", &cfg.SafetyWhitelist},
		{"BAN_CACHE", &cfg.BanCache},
	}
	for _, b := range bools {
		if *b.dst, err = getEnvBool(b.key, *b.dst); err != nil {
			return errkind.E(errkind.Config, b.key, err)
		}
	}
	return nil
}

// Validate checks cfg and reports the first problem as a Config error.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return errkind.Errorf(errkind.Config, "validate config", format, args...)
	}
	switch {
	case c.LogPath == "":
		return fail("log path must not be empty")
	case c.BannedPath == "":
		return fail("banned file path must not be empty")
	case c.WhitelistPath == "":
		return fail("whitelist path must not be empty")
	case c.Threshold < 1:
		return fail("threshold must be >= 1, got %d", c.Threshold)
	case c.PollInterval <= 0:
		return fail("poll interval must be > 0, got %s", c.PollInterval)
	case len(c.StatusCodes) == 0:
		return fail("at least one status code must be monitored")
	case c.ReloadTimeout < 0:
		return fail("reload timeout must not be negative, got %s", c.ReloadTimeout)
	case c.ReloadMinInterval < 0:
		return fail("reload min interval must not be negative, got %s", c.ReloadMinInterval)
	}
	for _, code := range c.StatusCodes {
		if code < 100 || code > 599 {
			return fail("status code %d is outside 100-599", code)
		}
	}
	if _, err := reload.Split(c.ReloadCommand); err != nil {
		return fail("reload command: %v", err)
	}
	if c.LineRegex != "" {
		re, err := regexp.Compile(c.LineRegex)
		if err != nil {
			return fail("line regex: %v", err)
		}
		if re.NumSubexp() < 2 {
			return fail("line regex needs two capture groups (address, status), got %d", re.NumSubexp())
		}
	}
	return nil
}
