package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ResourceFor exposes buildResource to the external test package.
func ResourceFor(cfg Config) (*resource.Resource, error) {
	return buildResource(cfg)
}

// LogWriterFor exposes the writer Init sends logs and filter warnings to.
func LogWriterFor(cfg Config) io.Writer {
	return logWriter(cfg)
}

// SampledPassSpans starts n root pass spans under the sampler Init would pick
// for cfg and returns how many were recorded.
func SampledPassSpans(cfg Config, n int) int {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(selectSampler(cfg)),
	)

	tracer := tp.Tracer(instrumentationName)

	for range n {
		_, span := tracer.Start(context.Background(), "geosplit.pass")
		span.End()
	}

	// Shutdown clears the exporter.
	recorded := len(exporter.GetSpans())

	_ = tp.Shutdown(context.Background())

	return recorded
}

// PassSpanSampled reports whether a single pass span is sampled under cfg.
func PassSpanSampled(cfg Config) bool {
	return SampledPassSpans(cfg, 1) == 1
}
