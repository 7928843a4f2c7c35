package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/polisai/rtcbind/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeUnchanged = "unchanged"
	OutcomeDrift     = "drift"
)

// Metrics holds the Prometheus metrics of the generator on a private registry.
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	ruleOutcomes  *prometheus.CounterVec
	symbols       *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all generator metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtcbind_runs_total",
				Help: "Total number of generation runs by target and outcome",
			},
			[]string{"target", "outcome"},
		),

		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rtcbind_run_duration_seconds",
				Help:    "Duration of complete generation runs in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rtcbind_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtcbind_stage_failures_total",
				Help: "Total number of runs aborted by each pipeline stage",
			},
			[]string{"stage"},
		),

		ruleOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtcbind_rule_outcomes_total",
				Help: "Total number of rewrite rule applications by rule kind and result",
			},
			[]string{"rule", "type", "result"},
		),

		symbols: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtcbind_symbols",
				Help: "Declarations in the last generated binding by kind",
			},
			[]string{"kind"},
		),

		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rtcbind_last_success_timestamp_seconds",
				Help: "Unix time of the last successful generation",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.stageDuration,
		m.stageFailures,
		m.ruleOutcomes,
		m.symbols,
		m.lastSuccess,
	)

	return m
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(target, outcome string, duration time.Duration) {
	m.runsTotal.WithLabelValues(target, outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
	if outcome != OutcomeFailure && outcome != OutcomeDrift {
		m.lastSuccess.SetToCurrentTime()
	}
}

// RecordStage records the duration of a stage and whether it failed.
func (m *Metrics) RecordStage(stage domain.Stage, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(string(stage)).Inc()
	}
}

// RecordRuleOutcomes counts each rule as applied or missing.
func (m *Metrics) RecordRuleOutcomes(outcomes []domain.RuleOutcome) {
	for _, o := range outcomes {
		result := "applied"
		if o.Missing {
			result = "missing"
		}
		m.ruleOutcomes.WithLabelValues(o.Rule, o.Type, result).Inc()
	}
}

// SetSymbols publishes the per-kind declaration counts of a symbol table.
func (m *Metrics) SetSymbols(table *domain.SymbolTable) {
	for _, kind := range []domain.DeclKind{
		domain.KindConst, domain.KindEnum, domain.KindStruct, domain.KindTypedef, domain.KindFunction,
	} {
		m.symbols.WithLabelValues(kind.String()).Set(float64(table.Count(kind)))
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the node_exporter textfile format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
