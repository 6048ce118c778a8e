package observability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	instrumentationName = "github.com/fluxbase-eu/fluxpack"
	defaultServiceName  = "fluxpack"
	defaultEndpoint     = "localhost:4317"
	defaultEnvironment  = "development"
)

// TracerConfig configures export of build and publish spans over OTLP/gRPC
type TracerConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`     // host:port of the collector
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"` // 0.0-1.0
	Insecure    bool    `mapstructure:"insecure"`

	// ServiceVersion is the project version, not read from the file
	ServiceVersion string `mapstructure:"-"`
}

// DefaultTracerConfig returns the defaults used when tracing is switched on
// without further settings
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Endpoint:    defaultEndpoint,
		ServiceName: defaultServiceName,
		Environment: defaultEnvironment,
		SampleRate:  1.0,
		Insecure:    true,
	}
}

func (c TracerConfig) withDefaults() TracerConfig {
	d := DefaultTracerConfig()
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.Environment == "" {
		c.Environment = d.Environment
	}
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	return c
}

// sampler maps the sample rate onto an SDK sampler. Child spans follow
// their parent so a sampled build keeps all of its target spans.
func (c TracerConfig) sampler() sdktrace.Sampler {
	if c.SampleRate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRate))
}

// Tracer owns the tracer provider of one command run
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer installs a batching OTLP provider as the global provider. When
// tracing is disabled the returned Tracer records nothing.
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	if !cfg.Enabled {
		log.Debug().Msg("Tracing is disabled")
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}
	cfg = cfg.withDefaults()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Debug().
		Str("endpoint", cfg.Endpoint).
		Str("service", cfg.ServiceName).
		Float64("sample_rate", cfg.SampleRate).
		Msg("Tracing enabled")

	return newTracer(provider), nil
}

func newTracer(provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(instrumentationName)}
}

// Enabled reports whether spans are exported
func (t *Tracer) Enabled() bool {
	return t.provider != nil
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartSpan starts a command-level span
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// SpanFromContext returns the span carried by ctx
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// StartTargetSpan starts the span of one target build
func StartTargetSpan(ctx context.Context, target, role, source string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "build."+target,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("build.target", target),
			attribute.String("build.role", role),
			attribute.String("build.source", source),
		),
	)
}

// StartStorageSpan starts the span of one storage call
func StartStorageSpan(ctx context.Context, operation, bucket, key string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.operation", operation),
			attribute.String("storage.bucket", bucket),
			attribute.String("storage.key", key),
		),
	)
}

// EndSpan ends span, marking it failed when err is set
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
