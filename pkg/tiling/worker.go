// Package tiling crops grid cells out of an oversized extract and classifies
// each result. Workers only ever write into the buffer directory; acting on
// an outcome (delete, re-queue, index) is left to the caller.
package tiling

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool"
	"github.com/Sumatoshi-tech/geosplit/pkg/partition"
	"github.com/Sumatoshi-tech/geosplit/pkg/units"
)

const tracerName = "geosplit/tiling"

// ExtractSuffix is the file extension of every extract.
const ExtractSuffix = ".osm.pbf"

// OutcomeKind classifies a cropped cell.
type OutcomeKind int

// Outcome kinds.
const (
	// OutcomeEmpty means the crop holds no data.
	OutcomeEmpty OutcomeKind = iota
	// OutcomeOversized means the crop still exceeds the threshold and must be
	// partitioned again.
	OutcomeOversized
	// OutcomeFinal means the crop is ready to be indexed.
	OutcomeFinal
)

// String returns the lowercase kind name used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeEmpty:
		return "empty"
	case OutcomeOversized:
		return "oversized"
	case OutcomeFinal:
		return "final"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of processing one cell.
type Outcome struct {
	Kind OutcomeKind
	Cell partition.Cell
	// Path is the cropped file in the buffer directory.
	Path string
	Size int64
	// Box holds the extents reported by the statistics tool. Only set for
	// OutcomeFinal.
	Box geo.BoundingBox
}

// Processor crops and classifies a single cell of parent.
type Processor interface {
	Process(ctx context.Context, parent string, cell partition.Cell) (Outcome, error)
}

// Worker is the Processor backed by an osmtool.Tool.
type Worker struct {
	tool      osmtool.Tool
	bufferDir string
	threshold uint64
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewWorker creates a worker writing into bufferDir. A nil logger falls back
// to slog.Default.
func NewWorker(tool osmtool.Tool, bufferDir string, threshold uint64, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		tool:      tool,
		bufferDir: bufferDir,
		threshold: threshold,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Process crops cell out of parent and classifies the output. Oversized is
// checked before emptiness; statistics are skipped for oversized outputs
// since the next partitioning pass extracts them anyway.
func (w *Worker) Process(ctx context.Context, parent string, cell partition.Cell) (Outcome, error) {
	ctx, span := w.tracer.Start(ctx, "tiling.process",
		trace.WithAttributes(
			attribute.Int("tile.x", cell.X),
			attribute.Int("tile.y", cell.Y),
			attribute.String("tile.box", cell.Box.String()),
		),
	)
	defer span.End()

	outcome, err := w.process(ctx, parent, cell)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tile processing failed")

		return Outcome{}, err
	}

	span.SetAttributes(attribute.String("tile.outcome", outcome.Kind.String()))

	w.logger.DebugContext(ctx, "tile processed",
		"x", cell.X, "y", cell.Y, "outcome", outcome.Kind.String(),
		"size", units.Format(outcome.Size), "path", outcome.Path)

	return outcome, nil
}

func (w *Worker) process(ctx context.Context, parent string, cell partition.Cell) (Outcome, error) {
	output := filepath.Join(w.bufferDir, OutputName(parent, cell.Box))

	err := w.tool.Crop(ctx, parent, cell.Box, output)
	if err != nil {
		return Outcome{}, fmt.Errorf("crop %s: %w", cell.Box, err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return Outcome{}, fmt.Errorf("stat crop output: %w", err)
	}

	outcome := Outcome{Cell: cell, Path: output, Size: info.Size()}

	if uint64(info.Size()) > w.threshold {
		outcome.Kind = OutcomeOversized

		return outcome, nil
	}

	stats, err := w.tool.Statistics(ctx, output)
	if err != nil {
		return Outcome{}, fmt.Errorf("statistics for %s: %w", output, err)
	}

	box, ok, err := stats.BoundingBox()
	if err != nil {
		return Outcome{}, fmt.Errorf("statistics for %s: %w", output, err)
	}

	if !ok {
		outcome.Kind = OutcomeEmpty

		return outcome, nil
	}

	outcome.Kind = OutcomeFinal
	outcome.Box = box

	return outcome, nil
}

// OutputName names the crop of box taken from parent:
// <stem>_<lonMin>_<latMin>_<lonMax>_<latMax>.osm.pbf, where stem is the
// parent's base name up to its first underscore. Crops of crops therefore
// keep the original region name rather than accumulating coordinates.
func OutputName(parent string, box geo.BoundingBox) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s%s", Stem(parent),
		geo.FormatCoord(box.LonMin()), geo.FormatCoord(box.LatMin()),
		geo.FormatCoord(box.LonMax()), geo.FormatCoord(box.LatMax()),
		ExtractSuffix)
}

// Stem returns the region name of an extract path.
func Stem(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ExtractSuffix)
	stem, _, _ := strings.Cut(base, "_")

	return stem
}
