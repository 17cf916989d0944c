package cmd

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/banstore"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/config"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/escalator"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/logging"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/metrics"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/parser"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/reload"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/whitelist"
)

// pipeline holds everything between the follower and the proxy.
type pipeline struct {
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	whitelist *whitelist.Whitelist
	store     *banstore.Store
	escalator *escalator.Escalator
}

// newPipeline wires the components described by cfg. Each gets its own
// component logger so operators can tell them apart.
func newPipeline(cfg config.Config) (*pipeline, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	p := parser.New()
	if cfg.LineRegex != "" {
		var err error
		if p, err = parser.NewWithRegex(cfg.LineRegex); err != nil {
			return nil, errkind.E(errkind.Config, "line regex", err)
		}
	}

	wl := whitelist.Load(cfg.WhitelistPath, whitelist.Options{
		Safety:        cfg.SafetyWhitelist,
		SSHConnection: os.Getenv("SSH_CONNECTION"),
	}, logging.WithComponent("whitelist"))
	m.SetWhitelistSize(wl.Len())

	reloader, err := reload.NewCommand(reload.Config{
		Command:     cfg.ReloadCommand,
		Timeout:     cfg.ReloadTimeout,
		MinInterval: cfg.ReloadMinInterval,
	}, logging.WithComponent("reload"))
	if err != nil {
		return nil, err
	}

	store := banstore.New(cfg.BannedPath, banstore.Options{Cache: cfg.BanCache}, logging.WithComponent("banstore"))

	esc, err := escalator.New(escalator.Config{
		StatusCodes: cfg.StatusCodes,
		Threshold:   cfg.Threshold,
		Preview:     cfg.Preview,
	}, escalator.Deps{
		Parser:    p,
		Whitelist: wl,
		Store:     store,
		Reloader:  reloader,
		Metrics:   m,
		Logger:    logging.WithComponent("escalator"),
	})
	if err != nil {
		store.Close()
		return nil, errkind.E(errkind.Config, "escalator", err)
	}

	return &pipeline{
		registry:  reg,
		metrics:   m,
		whitelist: wl,
		store:     store,
		escalator: esc,
	}, nil
}

func (p *pipeline) Close() error {
	return p.store.Close()
}

// logStats reports the escalator totals.
func logStats(logger *log.Logger, msg string, st escalator.Stats) {
	logger.Info(msg,
		"lines", st.Lines,
		"matched", st.Matched,
		"offenses", st.Offenses,
		"bans", st.Bans,
		"reload_failures", st.ReloadFailures,
		"store_errors", st.StoreErrors,
	)
}
