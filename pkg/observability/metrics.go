package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTilesTotal   = "geosplit.tiles.total"
	metricSourcesTotal = "geosplit.sources.total"
	metricToolDuration = "geosplit.tool.duration.seconds"
	metricToolErrors   = "geosplit.tool.errors.total"
	metricIndexAppends = "geosplit.index.appends.total"

	attrOutcome     = "outcome"
	attrDisposition = "disposition"
	attrOp          = "op"
	attrStatus      = "status"

	statusOK    = "ok"
	statusError = "error"
)

// toolBucketBoundaries covers sub-second statistics runs on small tiles up to
// half-hour crops of continent extracts.
var toolBucketBoundaries = []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200, 1800}

// PassMetrics holds the instruments a pass reports to. It satisfies
// lifecycle.Recorder, and RecordTool matches osmtool.ObserveFunc.
type PassMetrics struct {
	tilesTotal   metric.Int64Counter
	sourcesTotal metric.Int64Counter
	toolDuration metric.Float64Histogram
	toolErrors   metric.Int64Counter
	indexAppends metric.Int64Counter
}

// NewPassMetrics creates the pass instruments from the given meter.
func NewPassMetrics(mt metric.Meter) (*PassMetrics, error) {
	tiles, err := mt.Int64Counter(metricTilesTotal,
		metric.WithDescription("Tiles cropped, by outcome"),
		metric.WithUnit("{tile}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTilesTotal, err)
	}

	sources, err := mt.Int64Counter(metricSourcesTotal,
		metric.WithDescription("Source extracts processed, by disposition"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSourcesTotal, err)
	}

	toolDuration, err := mt.Float64Histogram(metricToolDuration,
		metric.WithDescription("External tool invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(toolBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolDuration, err)
	}

	toolErrors, err := mt.Int64Counter(metricToolErrors,
		metric.WithDescription("Failed external tool invocations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolErrors, err)
	}

	appends, err := mt.Int64Counter(metricIndexAppends,
		metric.WithDescription("Entries appended to the cache index"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricIndexAppends, err)
	}

	return &PassMetrics{
		tilesTotal:   tiles,
		sourcesTotal: sources,
		toolDuration: toolDuration,
		toolErrors:   toolErrors,
		indexAppends: appends,
	}, nil
}

// RecordSource counts a settled source extract.
func (pm *PassMetrics) RecordSource(ctx context.Context, disposition string) {
	pm.sourcesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrDisposition, disposition)))
}

// RecordTile counts a classified tile.
func (pm *PassMetrics) RecordTile(ctx context.Context, outcome string) {
	pm.tilesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordIndexAppend counts one index entry.
func (pm *PassMetrics) RecordIndexAppend(ctx context.Context) {
	pm.indexAppends.Add(ctx, 1)
}

// RecordTool records the duration of one tool invocation and counts it as an
// error when err is non-nil.
func (pm *PassMetrics) RecordTool(ctx context.Context, op string, elapsed time.Duration, err error) {
	status := statusOK
	if err != nil {
		status = statusError
	}

	pm.toolDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	))

	if err != nil {
		pm.toolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOp, op)))
	}
}
