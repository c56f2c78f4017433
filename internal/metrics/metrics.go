// Package metrics exposes the decision core's Prometheus instrumentation:
// transition throughput, invariant violations, break-glass triggers,
// subsidy balance, detector alert state, and sizer multipliers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the decision core publishes. A single
// instance is constructed at startup and threaded through every slot.
type Registry struct {
	TransitionsTotal      *prometheus.CounterVec
	InvariantViolations   *prometheus.CounterVec
	BreakGlassTriggers    *prometheus.CounterVec
	ExitRepriceTotal      *prometheus.CounterVec
	ExitOrphanTotal       *prometheus.CounterVec
	SubsidyBalance        *prometheus.GaugeVec
	JournalRows           *prometheus.GaugeVec
	BocpdChangeProb       *prometheus.GaugeVec
	BocpdAlertActive      *prometheus.GaugeVec
	KellyMultiplier       *prometheus.GaugeVec
	ThroughputMultiplier  *prometheus.GaugeVec
	SurvivalPFill1h       *prometheus.GaugeVec
	CycleDurationSeconds  *prometheus.HistogramVec
}

// New registers every collector against reg and returns the bound
// Registry. Pass prometheus.NewRegistry() in production, or a fresh
// registry per test to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisioncore",
			Name:      "transitions_total",
			Help:      "Count of pair-model transitions applied, by event type.",
		}, []string{"event_type"}),
		InvariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisioncore",
			Name:      "invariant_violations_total",
			Help:      "Count of invariant check failures observed after a transition.",
		}, []string{"invariant"}),
		BreakGlassTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisioncore",
			Name:      "break_glass_triggers_total",
			Help:      "Count of S2 break-glass deadlock resolutions, by slot.",
		}, []string{"slot"}),
		ExitRepriceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisioncore",
			Name:      "exit_reprice_total",
			Help:      "Count of stale-exit reprices, by slot.",
		}, []string{"slot"}),
		ExitOrphanTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decisioncore",
			Name:      "exit_orphan_total",
			Help:      "Count of exit orders declared orphaned, by slot.",
		}, []string{"slot"}),
		SubsidyBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "decisioncore",
			Name:      "subsidy_balance",
			Help:      "Current subsidy balance (earned minus consumed), by slot.",
		}, []string{"slot"}),
		JournalRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "decisioncore",
			Name:      "journal_rows",
			Help:      "Number of journal rows currently retained in memory, by slot.",
		}, []string{"slot"}),
		BocpdChangeProb: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "decisioncore",
			Name:      "bocpd_change_prob",
			Help:      "Latest BOCPD change-point probability.",
		}, []string{"slot"}),
		BocpdAlertActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "decisioncore",
			Name:      "bocpd_alert_active",
			Help:      "1 if the BOCPD alert is currently latched, else 0.",
		}, []string{"slot"}),
		KellyMultiplier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "decisioncore",
			Name:      "kelly_multiplier",
			Help:      "Latest Kelly sizing multiplier applied to order size.",
		}, []string{"slot", "regime"}),
		ThroughputMultiplier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "decisioncore",
			Name:      "throughput_multiplier",
			Help:      "Latest fill-time throughput sizing multiplier.",
		}, []string{"slot", "bucket"}),
		SurvivalPFill1h: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "decisioncore",
			Name:      "survival_p_fill_1h",
			Help:      "Predicted probability of fill within one hour.",
		}, []string{"slot"}),
		CycleDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "decisioncore",
			Name:      "cycle_duration_seconds",
			Help:      "Distribution of completed round-trip durations.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"slot"}),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.InvariantViolations,
		m.BreakGlassTriggers,
		m.ExitRepriceTotal,
		m.ExitOrphanTotal,
		m.SubsidyBalance,
		m.JournalRows,
		m.BocpdChangeProb,
		m.BocpdAlertActive,
		m.KellyMultiplier,
		m.ThroughputMultiplier,
		m.SurvivalPFill1h,
		m.CycleDurationSeconds,
	)
	return m
}

// ObserveAlert records BOCPD alert state as a 0/1 gauge.
func (m *Registry) ObserveAlert(slot string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.BocpdAlertActive.WithLabelValues(slot).Set(v)
}
