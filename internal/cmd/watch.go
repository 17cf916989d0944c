package cmd

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/config"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/follower"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/logging"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the access log and ban offenders (default)",
		Long: `Follow the access log from its current end. Every response with a
monitored status code counts as an offense for its client address. When an
address reaches the threshold it is appended to the ban file and the reload
command runs. Stops on SIGINT or SIGTERM.

Log rotation and truncation are not handled: restart the watcher after the log
file is rotated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, a.cfg)
		},
	}
	addPreviewFlag(cmd, false)
	return cmd
}

// runWatch follows cfg.LogPath until ctx is cancelled. Only startup failures
// are returned; everything after that is logged and survived.
func runWatch(ctx context.Context, cfg config.Config) error {
	logger := logging.Get()
	logger.Infof("🚀 🛡️ Starting App:'%s', ver:%s, Repo: %s", APP, VERSION, REPOSITORY)
	if cfg.Preview {
		logger.Warn("🔍 PREVIEW MODE: no ban will be written and the proxy will not be reloaded")
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	f, err := follower.Open(cfg.LogPath, follower.Options{
		PollInterval: cfg.PollInterval,
		Notify:       true,
	}, logging.WithComponent("follower"))
	if err != nil {
		logger.Error("❌ FATAL: cannot open log", "path", cfg.LogPath, "err", err)
		return err
	}
	defer f.Close()

	logger.Info("📖 monitoring log", "path", f.Path(), "offset", f.Offset())
	logger.Warn("⚠️ log rotation and truncation are not handled, restart the watcher after rotating", "path", f.Path())
	logger.Info("⚙️ ban policy",
		"status_codes", joinCodes(p.escalator.MonitoredCodes()),
		"threshold", cfg.Threshold,
		"ban_file", cfg.BannedPath,
		"whitelist_ranges", p.whitelist.Len(),
		"reload", cfg.ReloadCommand,
	)

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr, metrics.Handler(p.registry, p.store), logging.WithComponent("status"))
		if err != nil {
			logger.Error("❌ cannot start status server, continuing without it", "addr", cfg.MetricsAddr, "err", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(sctx); err != nil {
					logger.Warn("⚠️ status server shutdown", "err", err)
				}
			}()
		}
	}

	if err := p.escalator.Run(ctx, f); err != nil {
		return err
	}

	logger.Info("🛑 shutting down")
	logStats(logger, "✅ goBanWatch stopped", p.escalator.Stats())
	return nil
}

func joinCodes(codes []int) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
