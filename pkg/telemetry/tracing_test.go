package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/polisai/rtcbind/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestStageSpans(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartStage(context.Background(), domain.StageExtract, attribute.String("rtcbind.header", "rtcore.h"))
	EndStage(span, nil)
	_, span = StartStage(ctx, domain.StageNormalize)
	EndStage(span, errors.New("RTC_FORMAT_ and FORMAT_ both become FLOAT"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "rtcbind.extract", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	attrs := attribute.NewSet(spans[0].Attributes()...)
	value, ok := attrs.Value("rtcbind.header")
	require.True(t, ok)
	assert.Equal(t, "rtcore.h", value.AsString())

	assert.Equal(t, "rtcbind.normalize", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1, "the error is recorded as an event")
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
}

func TestInjectEnv(t *testing.T) {
	withRecorder(t)

	env := []string{"LC_ALL=C"}
	assert.Equal(t, env, InjectEnv(context.Background(), env), "no span, no trace context")

	ctx, span := StartStage(context.Background(), domain.StageExtract)
	defer span.End()

	out := InjectEnv(ctx, env)
	require.Len(t, out, 2)
	assert.Equal(t, "LC_ALL=C", out[0])
	assert.True(t, strings.HasPrefix(out[1], "TRACEPARENT=00-"+span.SpanContext().TraceID().String()))
	assert.Len(t, env, 1, "input is not modified")
}

func TestSetupProviderWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{ServiceName: "rtcbind"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
