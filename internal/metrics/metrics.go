// Package metrics exposes Prometheus counters for the ban watcher and an
// optional HTTP status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "banwatch"

// Metrics holds the watcher's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Lines         prometheus.Counter
	Events        *prometheus.CounterVec
	Offenses      prometheus.Counter
	Bans          prometheus.Counter
	Reloads       *prometheus.CounterVec
	StoreErrors   *prometheus.CounterVec
	TrackedAddrs  prometheus.Gauge
	WhitelistSize prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Total number of log lines read.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Processed log lines by outcome.",
		}, []string{"outcome"}),
		Offenses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offenses_total",
			Help:      "Total number of qualifying offenses counted.",
		}),
		Bans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bans_total",
			Help:      "Total number of addresses appended to the ban file.",
		}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Reload action invocations by result.",
		}, []string{"result"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ban_store_errors_total",
			Help:      "Ban file read/write failures by operation.",
		}, []string{"op"}),
		TrackedAddrs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_addresses",
			Help:      "Addresses with a non-zero offense count.",
		}),
		WhitelistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "whitelist_ranges",
			Help:      "Number of whitelisted ranges loaded at startup.",
		}),
	}

	reg.MustRegister(m.Lines, m.Events, m.Offenses, m.Bans, m.Reloads, m.StoreErrors, m.TrackedAddrs, m.WhitelistSize)
	return m
}

// IncLine counts one line read from the log.
func (m *Metrics) IncLine() {
	if m != nil {
		m.Lines.Inc()
	}
}

// IncEvent counts one processed line by outcome.
func (m *Metrics) IncEvent(outcome string) {
	if m != nil {
		m.Events.WithLabelValues(outcome).Inc()
	}
}

// IncOffense counts one qualifying offense.
func (m *Metrics) IncOffense() {
	if m != nil {
		m.Offenses.Inc()
	}
}

// IncBan counts one persisted ban.
func (m *Metrics) IncBan() {
	if m != nil {
		m.Bans.Inc()
	}
}

// IncReload counts one reload by result ("ok" or "error").
func (m *Metrics) IncReload(result string) {
	if m != nil {
		m.Reloads.WithLabelValues(result).Inc()
	}
}

// IncStoreError counts a ban file failure for op ("read" or "append").
func (m *Metrics) IncStoreError(op string) {
	if m != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

// SetTracked updates the tracked address gauge.
func (m *Metrics) SetTracked(n int) {
	if m != nil {
		m.TrackedAddrs.Set(float64(n))
	}
}

// SetWhitelistSize updates the whitelist gauge.
func (m *Metrics) SetWhitelistSize(n int) {
	if m != nil {
		m.WhitelistSize.Set(float64(n))
	}
}
