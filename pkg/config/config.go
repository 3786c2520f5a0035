package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/geosplit/pkg/units"
)

// Config is the top-level configuration struct for geosplit.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Directories DirectoriesConfig `mapstructure:"directories"`
	Tool        ToolConfig        `mapstructure:"tool"`
	Split       SplitConfig       `mapstructure:"split"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Index       IndexConfig       `mapstructure:"index"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// DirectoriesConfig names the directory for each pipeline role.
type DirectoriesConfig struct {
	Pending   string `mapstructure:"pending"`
	Buffer    string `mapstructure:"buffer"`
	Completed string `mapstructure:"completed"`
	Done      string `mapstructure:"done"`
	Archive   string `mapstructure:"archive"`
}

// ToolConfig locates the external osmconvert binary.
type ToolConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SplitConfig controls when and how finely an extract is split. Threshold
// decides whether a file is split; Unit is the size unit grids are sized in.
type SplitConfig struct {
	Threshold  string  `mapstructure:"threshold"`
	Unit       string  `mapstructure:"unit"`
	Multiplier int     `mapstructure:"multiplier"`
	Overlap    float64 `mapstructure:"overlap"`
	MaxRounds  int     `mapstructure:"max_rounds"`
}

// PipelineConfig holds worker pool knobs.
type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

// IndexConfig controls cache index documents.
type IndexConfig struct {
	Prefix          string `mapstructure:"prefix"`
	CompressArchive bool   `mapstructure:"compress_archive"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig controls OTLP export and the Prometheus endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	// OTLPHeaders is a "key=value,key=value" list sent with every export.
	OTLPHeaders string  `mapstructure:"otlp_headers"`
	DebugTrace  bool    `mapstructure:"debug_trace"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	MetricsAddr string  `mapstructure:"metrics_addr"`
	Environment string  `mapstructure:"environment"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidDirectory indicates a required directory is empty.
	ErrInvalidDirectory = errors.New("directories.pending, buffer, completed and done must be set")
	// ErrInvalidToolPath indicates the tool path is empty.
	ErrInvalidToolPath = errors.New("tool.path must be set")
	// ErrInvalidToolTimeout indicates the tool timeout is not positive.
	ErrInvalidToolTimeout = errors.New("tool.timeout must be positive")
	// ErrInvalidThreshold indicates the split threshold does not parse.
	ErrInvalidThreshold = errors.New("split.threshold must be a positive size such as 1GB")
	// ErrInvalidUnit indicates the grid size unit does not parse.
	ErrInvalidUnit = errors.New("split.unit must be a positive size such as 1GB")
	// ErrInvalidMultiplier indicates the split multiplier is not positive.
	ErrInvalidMultiplier = errors.New("split.multiplier must be positive")
	// ErrInvalidOverlap indicates the split overlap is negative.
	ErrInvalidOverlap = errors.New("split.overlap must be non-negative")
	// ErrInvalidMaxRounds indicates the round limit is negative.
	ErrInvalidMaxRounds = errors.New("split.max_rounds must be non-negative")
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("pipeline.workers must be non-negative")
	// ErrInvalidIndexPrefix indicates the index prefix is empty or contains a separator.
	ErrInvalidIndexPrefix = errors.New("index.prefix must be a non-empty file name prefix")
	// ErrInvalidSampleRatio indicates a trace sample ratio outside [0, 1].
	ErrInvalidSampleRatio = errors.New("telemetry.sample_ratio must be between 0 and 1")
	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	d := c.Directories
	if d.Pending == "" || d.Buffer == "" || d.Completed == "" || d.Done == "" {
		return ErrInvalidDirectory
	}

	toolErr := c.validateTool()
	if toolErr != nil {
		return toolErr
	}

	splitErr := c.validateSplit()
	if splitErr != nil {
		return splitErr
	}

	if c.Pipeline.Workers < 0 {
		return ErrInvalidWorkers
	}

	if c.Index.Prefix == "" || strings.ContainsAny(c.Index.Prefix, `/\`) {
		return ErrInvalidIndexPrefix
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	_, levelErr := c.LogLevel()

	return levelErr
}

func (c *Config) validateTool() error {
	if strings.TrimSpace(c.Tool.Path) == "" {
		return ErrInvalidToolPath
	}

	if c.Tool.Timeout <= 0 {
		return ErrInvalidToolTimeout
	}

	return nil
}

func (c *Config) validateSplit() error {
	_, thresholdErr := c.ThresholdBytes()
	if thresholdErr != nil {
		return thresholdErr
	}

	_, unitErr := c.UnitBytes()
	if unitErr != nil {
		return unitErr
	}

	if c.Split.Multiplier <= 0 {
		return ErrInvalidMultiplier
	}

	if c.Split.Overlap < 0 {
		return ErrInvalidOverlap
	}

	if c.Split.MaxRounds < 0 {
		return ErrInvalidMaxRounds
	}

	return nil
}

// ThresholdBytes parses Split.Threshold.
func (c *Config) ThresholdBytes() (uint64, error) {
	size, err := units.ParseSize(c.Split.Threshold)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidThreshold, err)
	}

	return size, nil
}

// UnitBytes parses Split.Unit.
func (c *Config) UnitBytes() (uint64, error) {
	size, err := units.ParseSize(c.Split.Unit)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidUnit, err)
	}

	return size, nil
}

// LogLevel parses Logging.Level. Empty means info.
func (c *Config) LogLevel() (slog.Level, error) {
	if c.Logging.Level == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level

	err := level.UnmarshalText([]byte(c.Logging.Level))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return level, nil
}
