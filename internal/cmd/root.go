// Package cmd provides the CLI commands for goBanWatch.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/config"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/logging"
)

const (
	APP        = "goBanWatch"
	VERSION    = "0.3.0"
	REPOSITORY = "https://github.com/lao-tseu-is-alive/go-ban-watch"
)

// globalFlags are the settings every command accepts. They win over the
// config file and the environment, but only when given explicitly.
type globalFlags struct {
	configPath string
	envFile    string

	logPath       string
	bannedPath    string
	whitelistPath string
	statusCodes   string
	threshold     int
	pollInterval  string
	reloadCommand string
	metricsAddr   string
	banCache      bool
	noSafety      bool

	logLevel  string
	logFormat string
	logFile   string
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags  globalFlags
	cfg    config.Config
	envHit bool
}

// NewRootCmd builds the command tree. Running it without a subcommand
// follows the log, like `goBanWatch watch`.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "goBanWatch",
		Short: "Ban HTTP clients that keep hitting rate limits",
		Long: `goBanWatch follows a proxy access log, counts the responses with
monitored status codes (429 and 418 by default) per client address, and once
an address reaches the threshold it is appended to the ban ACL file and the
proxy is reloaded.

Settings come from, lowest precedence first: defaults, --config YAML file,
.env file, environment variables, command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
				return nil
			}
			if err := a.load(cmd); err != nil {
				return err
			}
			if err := logging.Initialize(logging.Config{
				Level:  a.cfg.Log.Level,
				Format: a.cfg.Log.Format,
				File:   a.cfg.Log.File,
			}); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			if !a.envHit {
				logging.Get().Debug("no env file loaded", "path", a.flags.envFile)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	watchCmd := newWatchCmd(a)
	rootCmd.RunE = watchCmd.RunE
	addPreviewFlag(rootCmd, false)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "env file loaded before reading the environment")
	pf.StringVar(&a.flags.logPath, "log-path", "", "access log to follow (LOG_PATH)")
	pf.StringVar(&a.flags.bannedPath, "banned-path", "", "ban ACL file (BANNED_FILE_PATH)")
	pf.StringVar(&a.flags.whitelistPath, "whitelist-path", "", "whitelist file (WHITE_LIST_PATH)")
	pf.StringVar(&a.flags.statusCodes, "status-codes", "", "comma separated monitored status codes (STATUS_CODES)")
	pf.IntVar(&a.flags.threshold, "threshold", 0, "offenses before an address is banned (BAN_THRESHOLD)")
	pf.StringVar(&a.flags.pollInterval, "poll-interval", "", "max wait between reads at end of log (POLL_INTERVAL)")
	pf.StringVar(&a.flags.reloadCommand, "reload-command", "", "command run after each ban (RELOAD_COMMAND)")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "listen address of the status server, empty disables it (METRICS_ADDR)")
	pf.BoolVar(&a.flags.banCache, "ban-cache", false, "cache the ban file between changes (BAN_CACHE)")
	pf.BoolVar(&a.flags.noSafety, "no-safety-whitelist", false, "do not whitelist loopback and the SSH client")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error (LOG_LEVEL)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: text, json, logfmt (LOG_FORMAT)")
	pf.StringVar(&a.flags.logFile, "log-file", "", "also write logs to this rotated file (LOG_FILE)")

	rootCmd.AddCommand(watchCmd, newScanCmd(a), newVersionCmd())
	return rootCmd
}

// Execute runs the command tree.
func Execute() error {
	return NewRootCmd().Execute()
}

func addPreviewFlag(cmd *cobra.Command, def bool) {
	cmd.Flags().Bool("preview", def, "report would-be bans without writing or reloading (PREVIEW_MODE)")
}

// load resolves the configuration of this invocation.
func (a *app) load(cmd *cobra.Command) error {
	cfg := config.Default()

	if a.flags.configPath != "" {
		if err := config.LoadFile(&cfg, a.flags.configPath); err != nil {
			return err
		}
	}

	found, err := config.LoadDotEnv(a.flags.envFile)
	if err != nil {
		return err
	}
	a.envHit = found

	if err := config.ApplyEnv(&cfg); err != nil {
		return err
	}
	if err := a.applyFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	f := a.flags

	if fs.Changed("log-path") {
		cfg.LogPath = f.logPath
	}
	if fs.Changed("banned-path") {
		cfg.BannedPath = f.bannedPath
	}
	if fs.Changed("whitelist-path") {
		cfg.WhitelistPath = f.whitelistPath
	}
	if fs.Changed("status-codes") {
		codes, err := config.ParseStatusCodes(f.statusCodes)
		if err != nil {
			return fmt.Errorf("--status-codes: %w", err)
		}
		cfg.StatusCodes = codes
	}
	if fs.Changed("threshold") {
		cfg.Threshold = f.threshold
	}
	if fs.Changed("poll-interval") {
		d, err := time.ParseDuration(f.pollInterval)
		if err != nil {
			return fmt.Errorf("--poll-interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if fs.Changed("reload-command") {
		cfg.ReloadCommand = f.reloadCommand
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fs.Changed("ban-cache") {
		cfg.BanCache = f.banCache
	}
	if fs.Changed("no-safety-whitelist") {
		cfg.SafetyWhitelist = !f.noSafety
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fs.Changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if fs.Lookup("preview") != nil {
		preview, err := fs.GetBool("preview")
		if err != nil {
			return err
		}
		// scan defaults to preview; watch follows PREVIEW_MODE unless told otherwise
		if fs.Changed("preview") || cmd.Name() == "scan" {
			cfg.Preview = preview
		}
	}
	return nil
}
