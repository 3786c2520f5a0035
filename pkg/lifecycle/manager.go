// Package lifecycle drives a processing pass: it drains the pending
// directory, splits oversized extracts into tiles, and moves every file
// between the pipeline directories. It is the only component that moves,
// copies or deletes extracts.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/geosplit/pkg/cacheindex"
	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool"
	"github.com/Sumatoshi-tech/geosplit/pkg/partition"
	"github.com/Sumatoshi-tech/geosplit/pkg/tiling"
	"github.com/Sumatoshi-tech/geosplit/pkg/units"
)

// Sentinel errors for pass failures.
var (
	ErrFileMoveFailed     = errors.New("file move failed")
	ErrInvalidLayout      = errors.New("invalid directory layout")
	ErrInvalidOptions     = errors.New("invalid lifecycle options")
	ErrSplitLimitExceeded = errors.New("split limit exceeded")
)

const (
	tracerName = "geosplit/lifecycle"

	// DefaultMaxRounds bounds how often the pending directory is re-listed in
	// one pass. Every round at least halves the tile side, so this is only
	// reached when a single feature outweighs the threshold.
	DefaultMaxRounds = 32
)

// Source dispositions reported to the Recorder.
const (
	SourceCopied = "copied"
	SourceSplit  = "split"
	SourceEmpty  = "empty"
)

// Recorder receives pass metrics.
type Recorder interface {
	RecordSource(ctx context.Context, disposition string)
	RecordTile(ctx context.Context, outcome string)
	RecordIndexAppend(ctx context.Context)
}

type nopRecorder struct{}

func (nopRecorder) RecordSource(context.Context, string) {}
func (nopRecorder) RecordTile(context.Context, string)   {}
func (nopRecorder) RecordIndexAppend(context.Context)    {}

// Options configures a Manager.
type Options struct {
	Layout    Layout
	Tool      osmtool.Tool
	Threshold uint64
	Planner   partition.Planner
	// Workers is the per-source parallelism; 0 selects runtime.NumCPU.
	Workers int
	// IndexPrefix names index documents; empty selects the default.
	IndexPrefix     string
	CompressArchive bool
	// MaxRounds bounds re-listing of the pending directory; 0 selects
	// DefaultMaxRounds.
	MaxRounds int
	Recorder  Recorder
	Logger    *slog.Logger
	// Now stamps the index document; nil selects time.Now.
	Now func() time.Time
}

// TileCounts tallies tile outcomes.
type TileCounts struct {
	Final     int `json:"final"     yaml:"final"`
	Oversized int `json:"oversized" yaml:"oversized"`
	Empty     int `json:"empty"     yaml:"empty"`
}

// Total returns the number of tiles cropped.
func (c TileCounts) Total() int { return c.Final + c.Oversized + c.Empty }

// Summary reports what a pass did.
type Summary struct {
	NoOp          bool          `json:"no_op"          yaml:"no_op"`
	IndexPath     string        `json:"index_path"     yaml:"index_path"`
	Archived      []string      `json:"archived"       yaml:"archived"`
	Rounds        int           `json:"rounds"         yaml:"rounds"`
	Sources       int           `json:"sources"        yaml:"sources"`
	CopiedSources int           `json:"copied_sources" yaml:"copied_sources"`
	SplitSources  int           `json:"split_sources"  yaml:"split_sources"`
	EmptySources  int           `json:"empty_sources"  yaml:"empty_sources"`
	Tiles         TileCounts    `json:"tiles"          yaml:"tiles"`
	IndexEntries  int           `json:"index_entries"  yaml:"index_entries"`
	PurgedBuffer  int           `json:"purged_buffer"  yaml:"purged_buffer"`
	Duration      time.Duration `json:"duration"       yaml:"duration"`
}

// Manager runs processing passes.
type Manager struct {
	layout    Layout
	tool      osmtool.Tool
	threshold uint64
	planner   partition.Planner
	maxRounds int
	store     *cacheindex.Store
	pool      *tiling.Pool
	recorder  Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewManager validates opts and creates a manager.
func NewManager(opts Options) (*Manager, error) {
	layout := opts.Layout.WithDefaults()

	err := layout.Validate()
	if err != nil {
		return nil, err
	}

	if opts.Tool == nil {
		return nil, fmt.Errorf("%w: tool is required", ErrInvalidOptions)
	}

	if opts.Threshold == 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidOptions)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	worker := tiling.NewWorker(opts.Tool, layout.Buffer, opts.Threshold, logger)

	return &Manager{
		layout:    layout,
		tool:      opts.Tool,
		threshold: opts.Threshold,
		planner:   opts.Planner,
		maxRounds: maxRounds,
		store: cacheindex.NewStore(cacheindex.Options{
			Dir:             layout.Completed,
			ArchiveDir:      layout.Archive,
			Prefix:          opts.IndexPrefix,
			CompressArchive: opts.CompressArchive,
			Logger:          logger,
		}),
		pool:     tiling.NewPool(worker, opts.Workers),
		recorder: recorder,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      now,
	}, nil
}

// Store returns the index store the manager writes to.
func (m *Manager) Store() *cacheindex.Store { return m.store }

// Layout returns the effective directory layout.
func (m *Manager) Layout() Layout { return m.layout }

// Run processes the pending directory until it is empty. With nothing
// pending, Run touches neither the index nor the completed directory.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.run")
	defer span.End()

	start := time.Now()

	summary, err := m.run(ctx)
	summary.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("pass.sources", summary.Sources),
		attribute.Int("pass.tiles", summary.Tiles.Total()),
		attribute.Int("pass.rounds", summary.Rounds),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pass failed")

		return summary, err
	}

	return summary, nil
}

func (m *Manager) run(ctx context.Context) (Summary, error) {
	var summary Summary

	err := m.layout.Ensure()
	if err != nil {
		return summary, err
	}

	pending, err := listFiles(m.layout.Pending)
	if err != nil {
		return summary, err
	}

	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "nothing pending", "dir", m.layout.Pending)

		summary.NoOp = true

		return summary, nil
	}

	summary.PurgedBuffer, err = purge(m.layout.Buffer)
	if err != nil {
		return summary, err
	}

	if summary.PurgedBuffer > 0 {
		m.logger.WarnContext(ctx, "removed stale buffer entries", "count", summary.PurgedBuffer)
	}

	summary.Archived, err = m.store.ArchiveExisting()
	if err != nil {
		return summary, fmt.Errorf("archive index: %w", err)
	}

	summary.IndexPath, err = m.store.CreateFresh(m.now())
	if err != nil {
		return summary, err
	}

	writer, err := m.store.NewWriter(summary.IndexPath)
	if err != nil {
		return summary, err
	}
	defer writer.Close()

	p := &pass{Manager: m, writer: writer, summary: &summary}

	for len(pending) > 0 {
		if summary.Rounds == m.maxRounds {
			return summary, fmt.Errorf("%w: %d files still pending after %d rounds",
				ErrSplitLimitExceeded, len(pending), m.maxRounds)
		}

		summary.Rounds++

		m.logger.InfoContext(ctx, "processing pending files", "round", summary.Rounds, "files", len(pending))

		for _, source := range pending {
			ctxErr := ctx.Err()
			if ctxErr != nil {
				return summary, ctxErr
			}

			sourceErr := p.processSource(ctx, source)
			if sourceErr != nil {
				return summary, sourceErr
			}
		}

		pending, err = listFiles(m.layout.Pending)
		if err != nil {
			return summary, err
		}
	}

	m.logger.InfoContext(ctx, "pass finished",
		"index", summary.IndexPath, "sources", summary.Sources,
		"tiles", summary.Tiles.Total(), "entries", summary.IndexEntries)

	return summary, nil
}

// pass holds the per-run state shared by source and outcome handling.
type pass struct {
	*Manager

	writer  *cacheindex.Writer
	summary *Summary
}

func (p *pass) processSource(ctx context.Context, source string) error {
	ctx, span := p.tracer.Start(ctx, "lifecycle.source",
		trace.WithAttributes(attribute.String("source.path", source)))
	defer span.End()

	err := p.handleSource(ctx, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source failed")

		return err
	}

	return nil
}

func (p *pass) handleSource(ctx context.Context, source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}

	size := info.Size()

	stats, err := p.tool.Statistics(ctx, source)
	if err != nil {
		return fmt.Errorf("statistics for %s: %w", source, err)
	}

	box, ok, err := stats.BoundingBox()
	if err != nil {
		return fmt.Errorf("statistics for %s: %w", source, err)
	}

	logger := p.logger.With("source", filepath.Base(source), "size", units.Format(size))

	switch {
	case !ok:
		logger.WarnContext(ctx, "source has no data, skipping")

		p.summary.EmptySources++
		p.recorder.RecordSource(ctx, SourceEmpty)

	case uint64(size) > p.threshold:
		grid := p.planner.Plan(box, size)
		cells := grid.Cells()

		logger.InfoContext(ctx, "splitting source", "grid", grid.SplitSize, "cells", len(cells))

		runErr := p.pool.Run(ctx, source, cells, func(o tiling.Outcome) error {
			return p.settle(ctx, box, o)
		})
		if runErr != nil {
			return fmt.Errorf("split %s: %w", source, runErr)
		}

		p.summary.SplitSources++
		p.recorder.RecordSource(ctx, SourceSplit)

	default:
		dst, copyErr := copyFile(source, p.layout.Completed)
		if copyErr != nil {
			return copyErr
		}

		appendErr := p.index(ctx, dst, box)
		if appendErr != nil {
			return appendErr
		}

		logger.InfoContext(ctx, "source within threshold, copied", "to", dst)

		p.summary.CopiedSources++
		p.recorder.RecordSource(ctx, SourceCopied)
	}

	_, err = moveFile(source, p.layout.Done)
	if err != nil {
		return err
	}

	p.summary.Sources++

	return nil
}

// settle acts on one tile outcome of a source covering parent.
func (p *pass) settle(ctx context.Context, parent geo.BoundingBox, o tiling.Outcome) error {
	p.recorder.RecordTile(ctx, o.Kind.String())

	switch o.Kind {
	case tiling.OutcomeEmpty:
		p.summary.Tiles.Empty++

		return removeFile(o.Path)

	case tiling.OutcomeOversized:
		p.summary.Tiles.Oversized++

		// A tile covering its whole source cannot shrink on a later round.
		if o.Cell.Raw.Contains(parent) {
			return fmt.Errorf("%w: %s cannot be split below %s",
				ErrSplitLimitExceeded, o.Cell.Raw, units.Format(o.Size))
		}

		_, err := moveFile(o.Path, p.layout.Pending)

		return err

	case tiling.OutcomeFinal:
		p.summary.Tiles.Final++

		dst, err := moveFile(o.Path, p.layout.Completed)
		if err != nil {
			return err
		}

		return p.index(ctx, dst, o.Box)

	default:
		return fmt.Errorf("unknown tile outcome %s", o.Kind)
	}
}

func (p *pass) index(ctx context.Context, fileID string, box geo.BoundingBox) error {
	err := p.writer.Append(ctx, fileID, box)
	if err != nil {
		return fmt.Errorf("index %s: %w", fileID, err)
	}

	p.summary.IndexEntries++
	p.recorder.RecordIndexAppend(ctx)

	return nil
}
