package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polisai/rtcbind/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func withManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()
	return reader
}

func TestRecordStage(t *testing.T) {
	reader := withManualReader(t)
	ctx := context.Background()

	RecordStage(ctx, StageMetrics{
		Stage:    domain.StageExtract,
		Target:   "rust",
		Duration: 150 * time.Millisecond,
		Symbols:  29,
	})
	RecordStage(ctx, StageMetrics{
		Stage:  domain.StageNormalize,
		Target: "rust",
		Err:    errors.New("collision"),
	})

	metrics := collect(t, reader)

	sumExec, ok := metrics["rtcbind.stage.executions_total"]
	if !ok {
		t.Fatalf("missing rtcbind.stage.executions_total metric")
	}
	execData, ok := sumExec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for executions metric")
	}
	if len(execData.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(execData.DataPoints))
	}

	failures := metrics["rtcbind.stage.failures_total"].Data.(metricdata.Sum[int64])
	if len(failures.DataPoints) != 1 {
		t.Fatalf("expected 1 failure datapoint, got %d", len(failures.DataPoints))
	}
	if value, ok := failures.DataPoints[0].Attributes.Value(attribute.Key("rtcbind.stage")); !ok || value.AsString() != "normalize" {
		t.Fatalf("expected failing stage normalize, got %v", value)
	}

	hist, ok := metrics["rtcbind.stage.duration_ms"]
	if !ok {
		t.Fatalf("missing rtcbind.stage.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}

	gauge := metrics["rtcbind.symbols"].Data.(metricdata.Gauge[int64])
	if gauge.DataPoints[0].Value != 29 {
		t.Fatalf("expected 29 symbols, got %d", gauge.DataPoints[0].Value)
	}
}

func TestRecordRuleOutcomes(t *testing.T) {
	reader := withManualReader(t)

	RecordRuleOutcomes(context.Background(), []domain.RuleOutcome{
		{Rule: "enum", Type: "RTCFormat", Renamed: 8},
		{Rule: "enum", Type: "RTCDeviceProperty", Missing: true},
	})

	metrics := collect(t, reader)
	data, ok := metrics["rtcbind.rule.outcomes_total"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("missing rtcbind.rule.outcomes_total metric")
	}
	if len(data.DataPoints) != 2 {
		t.Fatalf("expected one datapoint per rule, got %d", len(data.DataPoints))
	}

	missing := 0
	for _, dp := range data.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key("rtcbind.rule.missing")); ok && v.AsBool() {
			missing++
			if typ, _ := dp.Attributes.Value(attribute.Key("rtcbind.rule.type")); typ.AsString() != "RTCDeviceProperty" {
				t.Fatalf("unexpected missing rule type %v", typ)
			}
		}
	}
	if missing != 1 {
		t.Fatalf("expected 1 missing rule, got %d", missing)
	}
}
