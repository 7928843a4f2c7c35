package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/polisai/rtcbind/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/polisai/rtcbind/pkg/generator"

// StartStage opens the span for one pipeline stage on the global tracer provider.
func StartStage(ctx context.Context, stage domain.Stage, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String("rtcbind.stage", string(stage))}, attrs...)
	return otel.Tracer(instrumentationName).Start(ctx, "rtcbind."+string(stage), trace.WithAttributes(attrs...))
}

// EndStage records the stage result on span and ends it.
func EndStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectEnv appends the trace context of ctx to a child process environment
// (TRACEPARENT=...), so a tracing-aware extraction tool joins the run's trace.
// Without an active span env is returned unchanged.
func InjectEnv(ctx context.Context, env []string) []string {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return env
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	keys := carrier.Keys()
	sort.Strings(keys)
	out := append([]string(nil), env...)
	for _, k := range keys {
		out = append(out, strings.ToUpper(k)+"="+carrier.Get(k))
	}
	return out
}
