package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/polisai/rtcbind/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	stageCounter     metric.Int64Counter
	stageFailures    metric.Int64Counter
	stageLatency     metric.Float64Histogram
	ruleOutcomeCount metric.Int64Counter
	generatedSymbols metric.Int64Gauge
)

// StageMetrics captures the fields needed to record one pipeline stage.
type StageMetrics struct {
	Stage    domain.Stage
	Target   string
	Duration time.Duration
	Err      error
	// Symbols is the size of the symbol table after the stage, when known.
	Symbols int
}

// RecordStage emits counters and histograms that describe a stage execution
// on the global meter provider.
func RecordStage(ctx context.Context, m StageMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "success"
	if m.Err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("rtcbind.stage", string(m.Stage)),
		attribute.String("rtcbind.target", m.Target),
		attribute.String("rtcbind.outcome", outcome),
	)

	stageCounter.Add(ctx, 1, attrs)
	if m.Err != nil {
		stageFailures.Add(ctx, 1, attrs)
	}
	if m.Duration > 0 {
		stageLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.Symbols > 0 {
		generatedSymbols.Record(ctx, int64(m.Symbols), metric.WithAttributes(
			attribute.String("rtcbind.stage", string(m.Stage)),
			attribute.String("rtcbind.target", m.Target),
		))
	}
}

// RecordRuleOutcomes counts applied and missing rewrite rules.
func RecordRuleOutcomes(ctx context.Context, outcomes []domain.RuleOutcome) {
	if err := ensureMetrics(); err != nil {
		return
	}
	for _, o := range outcomes {
		ruleOutcomeCount.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rtcbind.rule", o.Rule),
			attribute.String("rtcbind.rule.type", o.Type),
			attribute.Bool("rtcbind.rule.missing", o.Missing),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("rtcbind.generator")

		stageCounter, metricsInitErr = meter.Int64Counter(
			"rtcbind.stage.executions_total",
			metric.WithDescription("Pipeline stage executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageFailures, metricsInitErr = meter.Int64Counter(
			"rtcbind.stage.failures_total",
			metric.WithDescription("Pipeline stage executions that aborted the run"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageLatency, metricsInitErr = meter.Float64Histogram(
			"rtcbind.stage.duration_ms",
			metric.WithDescription("Observed pipeline stage latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		ruleOutcomeCount, metricsInitErr = meter.Int64Counter(
			"rtcbind.rule.outcomes_total",
			metric.WithDescription("Rewrite rules applied, partitioned by whether they matched"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		generatedSymbols, metricsInitErr = meter.Int64Gauge(
			"rtcbind.symbols",
			metric.WithDescription("Declarations in the symbol table after a stage"),
			metric.WithUnit("{symbol}"),
		)
	})

	return metricsInitErr
}
