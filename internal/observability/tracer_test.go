package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "fluxpack", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Insecure)
}

func TestTracerConfig_WithDefaults(t *testing.T) {
	cfg := TracerConfig{Enabled: true, SampleRate: -1, Endpoint: "collector:4317"}.withDefaults()

	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.Equal(t, "fluxpack", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestTracerConfig_Sampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), TracerConfig{SampleRate: 1}.sampler().Description())
	assert.Contains(t, TracerConfig{SampleRate: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), TracerConfig{})
	require.NoError(t, err)

	assert.False(t, tracer.Enabled())
	ctx, span := tracer.StartSpan(context.Background(), "fluxpack.build")
	assert.False(t, span.IsRecording())
	assert.Equal(t, span, SpanFromContext(ctx))
	span.End()
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

// recordSpans routes the global provider into an in-memory exporter
func recordSpans(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return exporter, provider
}

func TestSpans_Recorded(t *testing.T) {
	exporter, provider := recordSpans(t)
	tracer := newTracer(provider)
	assert.True(t, tracer.Enabled())

	ctx, root := tracer.StartSpan(context.Background(), "fluxpack.build")

	_, target := StartTargetSpan(ctx, "firebase-auth", "dependent", "src/auth.js")
	EndSpan(target, nil)

	_, upload := StartStorageSpan(ctx, "upload", "releases", "firebase/4.6.0/firebase-auth.js")
	EndSpan(upload, errors.New("denied"))

	EndSpan(root, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	build := byName["build.firebase-auth"]
	assert.Equal(t, byName["fluxpack.build"].SpanContext.TraceID(), build.SpanContext.TraceID())
	assert.Contains(t, build.Attributes, attribute.String("build.role", "dependent"))
	assert.Equal(t, codes.Unset, build.Status.Code)

	failed := byName["storage.upload"]
	assert.Equal(t, codes.Error, failed.Status.Code)
	assert.Equal(t, "denied", failed.Status.Description)
	assert.Len(t, failed.Events, 1)
}
