package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/geosplit/pkg/observability"
)

func filteredSpanAttrs(t *testing.T, logger *slog.Logger, attrs ...attribute.KeyValue) map[string]any {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), logger)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(attrs...)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	m := make(map[string]any, len(spans[0].Attributes))
	for _, a := range spans[0].Attributes {
		m[string(a.Key)] = a.Value.AsInterface()
	}

	return m
}

func TestAttributeFilter_AllowsDomainKeys(t *testing.T) {
	t.Parallel()

	attrs := filteredSpanAttrs(t, nil,
		attribute.String("source.path", "/data/pending/berlin.osm.pbf"),
		attribute.Int("tile.x", 3),
		attribute.String("tool.op", "crop"),
		attribute.Int("pass.rounds", 2),
		attribute.String("error.type", "timeout"),
		attribute.Bool("error", true),
	)

	assert.Equal(t, "/data/pending/berlin.osm.pbf", attrs["source.path"])
	assert.Equal(t, int64(3), attrs["tile.x"])
	assert.Equal(t, "crop", attrs["tool.op"])
	assert.Equal(t, int64(2), attrs["pass.rounds"])
	assert.Equal(t, "timeout", attrs["error.type"])
	assert.Equal(t, true, attrs["error"])
}

func TestAttributeFilter_DropsUnknownAndSecrets(t *testing.T) {
	t.Parallel()

	attrs := filteredSpanAttrs(t, nil,
		attribute.String("user.email", "alice@example.com"),
		attribute.String("http.request.body", "{}"),
		attribute.String("tool.token", "abc"),
		attribute.String("geosplit.otlp.headers", "authorization=x"),
		attribute.String("tile.box", "0,0,1,1"),
	)

	assert.Equal(t, map[string]any{"tile.box": "0,0,1,1"}, attrs)
}

func TestAttributeFilter_WarnsWithLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	filteredSpanAttrs(t, logger, attribute.String("user.secret", "val"))

	assert.Contains(t, buf.String(), "user.secret")
	assert.Contains(t, buf.String(), "blocked")
}
