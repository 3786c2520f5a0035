package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/geosplit/pkg/config"
	"github.com/Sumatoshi-tech/geosplit/pkg/lifecycle"
	"github.com/Sumatoshi-tech/geosplit/pkg/observability"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool"
	"github.com/Sumatoshi-tech/geosplit/pkg/partition"
	"github.com/Sumatoshi-tech/geosplit/pkg/units"
	"github.com/Sumatoshi-tech/geosplit/pkg/version"
)

// toolFactory builds the extract tool for a run.
type toolFactory func(opts osmtool.Options) osmtool.Tool

func newOsmconvert(opts osmtool.Options) osmtool.Tool { return osmtool.New(opts) }

// RunCommand holds flags and dependencies for the run command.
type RunCommand struct {
	configPath  string
	workers     int
	threshold   string
	unit        string
	multiplier  int
	toolPath    string
	format      string
	noColor     bool
	silent      bool
	debugTrace  bool
	metricsAddr string

	newTool toolFactory
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommandWithDeps(newOsmconvert)
}

func newRunCommandWithDeps(newTool toolFactory) *cobra.Command {
	rc := &RunCommand{newTool: newTool}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every extract in the pending directory",
		Long: `Run one processing pass: split every pending extract above the size
threshold, copy the rest to the completed directory and write a fresh
cache index describing all completed tiles.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file (default: .geosplit.yaml in CWD or $HOME)")
	cmd.Flags().IntVar(&rc.workers, "workers", 0, "Parallel crops per source (0 = use CPU count, 1 = sequential)")
	cmd.Flags().StringVar(&rc.threshold, "threshold", "", "Split threshold, e.g. '1GB' or '512MiB'")
	cmd.Flags().StringVar(&rc.unit, "unit", "", "Size unit grids are sized in, e.g. '1GB'")
	cmd.Flags().IntVar(&rc.multiplier, "multiplier", 0, "Grid multiplier applied to ceil(sqrt(size/unit))")
	cmd.Flags().StringVar(&rc.toolPath, "tool", "", "Path to the osmconvert binary")
	cmd.Flags().StringVar(&rc.format, "format", FormatText, "Summary format: text, json, yaml")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored summary output")
	cmd.Flags().BoolVar(&rc.silent, "silent", false, "Only log errors")
	cmd.Flags().BoolVar(&rc.debugTrace, "debug-trace", false, "Sample every trace and log dropped span attributes")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the pass")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	err := validateFormat(rc.format)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(rc.configPath)
	if err != nil {
		return err
	}

	err = rc.applyFlags(cmd, cfg)
	if err != nil {
		return err
	}

	providers, err := observability.Init(rc.observabilityConfig(cmd, cfg))
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.WithoutCancel(cmd.Context()))
		if shutdownErr != nil {
			providers.Logger.Warn("telemetry shutdown failed", "error", shutdownErr)
		}
	}()

	runID := uuid.NewString()
	logger := observability.WithRunID(providers.Logger, runID)

	stopMetrics := rc.serveMetrics(cmd.Context(), cfg, providers, logger)
	defer stopMetrics()

	manager, err := rc.newManager(cfg, providers.Metrics, logger)
	if err != nil {
		return err
	}

	summary, err := manager.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	return renderSummary(cmd.OutOrStdout(), rc.format, runReport{RunID: runID, Summary: summary}, rc.noColor)
}

// applyFlags overrides config values with explicitly set flags.
func (rc *RunCommand) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("workers") {
		cfg.Pipeline.Workers = rc.workers
	}

	if flags.Changed("threshold") {
		cfg.Split.Threshold = rc.threshold
	}

	if flags.Changed("unit") {
		cfg.Split.Unit = rc.unit
	}

	if flags.Changed("multiplier") {
		cfg.Split.Multiplier = rc.multiplier
	}

	if flags.Changed("tool") {
		cfg.Tool.Path = rc.toolPath
	}

	if flags.Changed("debug-trace") {
		cfg.Telemetry.DebugTrace = rc.debugTrace
	}

	if flags.Changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = rc.metricsAddr
	}

	err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("validate flags: %w", err)
	}

	return nil
}

func (rc *RunCommand) observabilityConfig(cmd *cobra.Command, cfg *config.Config) observability.Config {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Telemetry.Environment
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.DebugTrace = cfg.Telemetry.DebugTrace
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.Prometheus = cfg.Telemetry.MetricsAddr != ""
	obsCfg.LogJSON = cfg.Logging.JSON
	obsCfg.LogWriter = cmd.ErrOrStderr()

	// Validate has already accepted the level.
	obsCfg.LogLevel, _ = cfg.LogLevel()
	if rc.silent {
		obsCfg.LogLevel = slog.LevelError
	}

	return obsCfg
}

// serveMetrics starts the scrape endpoint when configured and returns a
// function that stops it.
func (rc *RunCommand) serveMetrics(
	ctx context.Context, cfg *config.Config, providers observability.Providers, logger *slog.Logger,
) func() {
	if cfg.Telemetry.MetricsAddr == "" || providers.MetricsHandler == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		err := observability.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr, providers.MetricsHandler, logger)
		if err != nil {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (rc *RunCommand) newManager(
	cfg *config.Config, metrics *observability.PassMetrics, logger *slog.Logger,
) (*lifecycle.Manager, error) {
	// Validate has already parsed both sizes.
	threshold, _ := cfg.ThresholdBytes()
	unit, _ := cfg.UnitBytes()

	tool := rc.newTool(osmtool.Options{
		Path:    cfg.Tool.Path,
		Timeout: cfg.Tool.Timeout,
		Logger:  logger,
		Observe: metrics.RecordTool,
	})

	logger.Info("pass configured",
		"pending", cfg.Directories.Pending,
		"completed", cfg.Directories.Completed,
		"threshold", units.Format(int64(threshold)),
		"unit", units.Format(int64(unit)),
		"multiplier", cfg.Split.Multiplier,
		"workers", cfg.Pipeline.Workers,
	)

	manager, err := lifecycle.NewManager(lifecycle.Options{
		Layout: lifecycle.Layout{
			Pending:   cfg.Directories.Pending,
			Buffer:    cfg.Directories.Buffer,
			Completed: cfg.Directories.Completed,
			Done:      cfg.Directories.Done,
			Archive:   cfg.Directories.Archive,
		},
		Tool:      tool,
		Threshold: threshold,
		Planner: partition.Planner{
			Multiplier: cfg.Split.Multiplier,
			Overlap:    cfg.Split.Overlap,
			Unit:       unit,
		},
		Workers:         cfg.Pipeline.Workers,
		IndexPrefix:     cfg.Index.Prefix,
		CompressArchive: cfg.Index.CompressArchive,
		MaxRounds:       cfg.Split.MaxRounds,
		Recorder:        metrics,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure pass: %w", err)
	}

	return manager, nil
}
