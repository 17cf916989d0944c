package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/config"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/escalator"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/follower"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/logging"
)

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the whole existing log through the ban policy once",
		Long: `Read the access log from the beginning, apply the same ban policy as
watch, print a summary and exit. Runs in preview mode unless --preview=false
is given, in which case bans are written and the proxy is reloaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runScan(cmd.Context(), a.cfg, cmd.OutOrStdout())
			return err
		},
	}
	addPreviewFlag(cmd, true)
	return cmd
}

// runScan processes every complete line currently in cfg.LogPath and writes
// a summary to out.
func runScan(ctx context.Context, cfg config.Config, out io.Writer) (escalator.Stats, error) {
	logger := logging.Get()
	if cfg.Preview {
		logger.Info("🔍 PREVIEW MODE: no ban will be written and the proxy will not be reloaded")
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return escalator.Stats{}, err
	}
	defer p.Close()

	f, err := follower.Open(cfg.LogPath, follower.Options{FromStart: true}, logging.WithComponent("follower"))
	if err != nil {
		logger.Error("❌ FATAL: cannot open log", "path", cfg.LogPath, "err", err)
		return escalator.Stats{}, err
	}
	defer f.Close()

	logger.Info("📖 scanning log", "path", f.Path())
	for ctx.Err() == nil {
		line, ok, err := f.ReadAvailable()
		if err != nil {
			return p.escalator.Stats(), err
		}
		if !ok {
			break
		}
		p.escalator.Process(ctx, line)
	}

	st := p.escalator.Stats()
	verb := "banned"
	if cfg.Preview {
		verb = "would ban"
	}
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "📊 %d lines, %d matched, %d offenses, %s %d addresses\n", st.Lines, st.Matched, st.Offenses, verb, st.Bans)
	if st.ReloadFailures > 0 || st.StoreErrors > 0 {
		fmt.Fprintf(out, "⚠️ %d reload failures, %d ban file errors\n", st.ReloadFailures, st.StoreErrors)
	}
	logStats(logger, "✅ scan finished", st)
	return st, nil
}
