package tracer

import (
	"context"
	"log"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const serviceName = "knowledge-assistant-backend"

// Options selects where and how much to trace.
type Options struct {
	Enabled     bool
	Endpoint    string
	Environment string
	// SampleRatio of root spans kept, 0 < r <= 1.
	SampleRatio float64
}

// OptionsFromEnv reads OTEL_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT,
// OTEL_SAMPLE_RATIO and GO_ENV.
func OptionsFromEnv() Options {
	opts := Options{
		Enabled:     os.Getenv("OTEL_ENABLED") == "true",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Environment: os.Getenv("GO_ENV"),
		SampleRatio: 1,
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "localhost:4318"
	}
	if opts.Environment == "" {
		opts.Environment = "development"
	}
	if r, err := strconv.ParseFloat(os.Getenv("OTEL_SAMPLE_RATIO"), 64); err == nil && r > 0 && r <= 1 {
		opts.SampleRatio = r
	}
	return opts
}

// InitTracer installs the global OTLP HTTP provider and returns its
// shutdown func. otelfiber and the pipeline spans report through it; with
// tracing disabled both get the no-op provider.
func InitTracer(opts Options) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		log.Println("Tracing disabled (set OTEL_ENABLED=true to enable)")
		return noop
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Printf("Warning: OTLP exporter unavailable, tracing disabled: %v", err)
		return noop
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(opts.Environment),
		)),
	)
	otel.SetTracerProvider(tp)
	log.Printf("Tracing to %s (sample ratio %.2f)", opts.Endpoint, opts.SampleRatio)

	return tp.Shutdown
}
