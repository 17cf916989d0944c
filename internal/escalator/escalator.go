// Package escalator turns parsed access log events into bans.
//
// For every line, in order: unparseable lines are dropped, whitelisted
// addresses are dropped, addresses already in the ban file are dropped,
// statuses outside the monitored set are dropped, and everything else counts
// as an offense. When an address reaches exactly the threshold it is
// appended to the ban file, the proxy is reloaded and its count goes back to
// zero.
//
// Per address: Unseen -> Counting(n) -> Banned. Counts never decay with time.
package escalator

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/ipset"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/metrics"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/parser"
	"github.com/lao-tseu-is-alive/go-ban-watch/internal/tracker"
)

// readRetryDelay is the pause after a failed read of the followed log.
const readRetryDelay = time.Second

// Outcome says what happened to one line. Values double as metric labels.
type Outcome string

const (
	NoMatch       Outcome = "no_match"
	Invalid       Outcome = "invalid"
	Whitelisted   Outcome = "whitelisted"
	AlreadyBanned Outcome = "already_banned"
	StatusIgnored Outcome = "status_ignored"
	Counted       Outcome = "counted"
	Banned        Outcome = "banned"
	StoreError    Outcome = "store_error"
)

// LineParser extracts events from raw lines.
type LineParser interface {
	Parse(line string) (parser.Event, bool)
}

// Whitelist answers whether an address must be left alone.
type Whitelist interface {
	Contains(addr netip.Addr) (bool, error)
}

// BanStore is the persisted ban list.
type BanStore interface {
	CurrentBans() (*ipset.Set, error)
	Append(addr netip.Addr) error
}

// Reloader makes the proxy pick up the ban file.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Source yields raw log lines, blocking until one is available.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Config holds the escalation policy.
type Config struct {
	// StatusCodes is the monitored set (e.g. 429, 418).
	StatusCodes []int
	// Threshold is the exact offense count that triggers a ban (>= 1).
	Threshold int
	// Preview reports would-be bans without writing or reloading.
	Preview bool
}

// Deps are the collaborators of an Escalator. Metrics may be nil.
type Deps struct {
	Parser    LineParser
	Whitelist Whitelist
	Store     BanStore
	Reloader  Reloader
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// Stats are running totals since the escalator was created.
type Stats struct {
	Lines          int
	Matched        int
	Offenses       int
	Bans           int
	ReloadFailures int
	StoreErrors    int
}

// Escalator is the per-line state machine. It owns its offense tracker and
// is driven by a single goroutine.
type Escalator struct {
	codes     map[int]struct{}
	threshold int
	preview   bool

	parser    LineParser
	whitelist Whitelist
	store     BanStore
	reloader  Reloader
	metrics   *metrics.Metrics
	logger    *log.Logger

	offenses  *tracker.Tracker
	previewed map[netip.Addr]struct{}
	stats     Stats
}

// New validates cfg and wires the collaborators.
func New(cfg Config, deps Deps) (*Escalator, error) {
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("threshold must be >= 1, got %d", cfg.Threshold)
	}
	if len(cfg.StatusCodes) == 0 {
		return nil, errors.New("at least one monitored status code is required")
	}
	if deps.Parser == nil || deps.Whitelist == nil || deps.Store == nil || deps.Reloader == nil || deps.Logger == nil {
		return nil, errors.New("escalator needs a parser, whitelist, ban store, reloader and logger")
	}

	codes := make(map[int]struct{}, len(cfg.StatusCodes))
	for _, c := range cfg.StatusCodes {
		codes[c] = struct{}{}
	}

	return &Escalator{
		codes:     codes,
		threshold: cfg.Threshold,
		preview:   cfg.Preview,
		parser:    deps.Parser,
		whitelist: deps.Whitelist,
		store:     deps.Store,
		reloader:  deps.Reloader,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		offenses:  tracker.New(),
		previewed: make(map[netip.Addr]struct{}),
	}, nil
}

// Run pulls lines from src until ctx is done. Read errors are logged and
// retried; only cancellation ends the loop, and it returns nil then.
func (e *Escalator) Run(ctx context.Context, src Source) error {
	for {
		line, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("⚠️ cannot read log, retrying", "err", err, "retry_in", readRetryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}
		e.Process(ctx, line)
	}
}

// Process handles one raw line and reports what happened to it.
// Failures are logged and contained: they never stop the caller's loop.
func (e *Escalator) Process(ctx context.Context, line string) Outcome {
	e.stats.Lines++
	e.metrics.IncLine()
	outcome := e.process(ctx, line)
	e.metrics.IncEvent(string(outcome))
	return outcome
}

func (e *Escalator) process(ctx context.Context, line string) Outcome {
	ev, ok := e.parser.Parse(line)
	if !ok {
		return NoMatch
	}
	e.stats.Matched++

	whitelisted, err := e.whitelist.Contains(ev.Addr)
	if err != nil {
		e.logger.Error("❌ whitelist lookup failed", "ip", ev.Addr, "err", err)
		return Invalid
	}
	if whitelisted {
		e.logger.Debug("[-] address is whitelisted, skipping", "ip", ev.Addr, "status", ev.Status)
		return Whitelisted
	}

	bans, err := e.store.CurrentBans()
	if err != nil {
		e.stats.StoreErrors++
		e.metrics.IncStoreError("read")
		e.logger.Error("❌ cannot read ban file, event skipped", "ip", ev.Addr, "err", err)
		return StoreError
	}
	if bans.Contains(ev.Addr) || e.wasPreviewed(ev.Addr) {
		return AlreadyBanned
	}

	if _, monitored := e.codes[ev.Status]; !monitored {
		return StatusIgnored
	}

	n := e.offenses.RecordOffense(ev.Addr)
	e.stats.Offenses++
	e.metrics.IncOffense()
	e.metrics.SetTracked(e.offenses.Len())
	e.logger.Debug("offense recorded", "ip", ev.Addr, "status", ev.Status, "count", n, "threshold", e.threshold)

	if n != e.threshold {
		return Counted
	}
	return e.ban(ctx, ev, n)
}

func (e *Escalator) ban(ctx context.Context, ev parser.Event, hits int) Outcome {
	defer func() { e.metrics.SetTracked(e.offenses.Len()) }()

	if e.preview {
		e.previewed[ev.Addr] = struct{}{}
		e.offenses.Reset(ev.Addr)
		e.stats.Bans++
		e.logger.Warn("👀 [PREVIEW] would ban address", "ip", ev.Addr, "hits", hits, "status", ev.Status)
		return Banned
	}

	if err := e.store.Append(ev.Addr); err != nil {
		// undo this hit so the next qualifying event retries the ban
		e.offenses.Rollback(ev.Addr)
		e.stats.StoreErrors++
		e.metrics.IncStoreError("append")
		e.logger.Error("❌ failed to persist ban, will retry on next offense", "ip", ev.Addr, "err", err)
		return StoreError
	}
	e.stats.Bans++
	e.metrics.IncBan()
	e.logger.Warn("🚫 banned address", "ip", ev.Addr, "hits", hits, "status", ev.Status)

	if err := e.reloader.Reload(ctx); err != nil {
		e.stats.ReloadFailures++
		e.metrics.IncReload("error")
		e.logger.Error("⚠️ reload failed, ban stays persisted", "ip", ev.Addr, "err", err)
	} else {
		e.metrics.IncReload("ok")
	}

	e.offenses.Reset(ev.Addr)
	return Banned
}

func (e *Escalator) wasPreviewed(addr netip.Addr) bool {
	_, ok := e.previewed[addr]
	return ok
}

// OffenseCount returns the current count for addr.
func (e *Escalator) OffenseCount(addr netip.Addr) int {
	return e.offenses.Count(addr)
}

// Stats returns the running totals.
func (e *Escalator) Stats() Stats {
	return e.stats
}

// MonitoredCodes returns the monitored status codes in ascending order.
func (e *Escalator) MonitoredCodes() []int {
	codes := make([]int, 0, len(e.codes))
	for c := range e.codes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}
