// Package config loads geosplit settings from defaults, a YAML file and
// GEOSPLIT_* environment variables.
package config

import "time"

// Directory defaults, relative to the working directory.
const (
	DefaultPendingDir   = "resources/raw"
	DefaultBufferDir    = "resources/buffer"
	DefaultCompletedDir = "resources/preprocessed"
	DefaultDoneDir      = "resources/done"
	DefaultArchiveDir   = ""
)

// Tool defaults.
const (
	DefaultToolPath    = "osmconvert"
	DefaultToolTimeout = 30 * time.Minute
)

// Split defaults.
const (
	DefaultSplitThreshold  = "1GB"
	DefaultSplitUnit       = "1GB"
	DefaultSplitMultiplier = 2
	DefaultSplitOverlap    = 0.00001
	DefaultSplitMaxRounds  = 32
)

// Pipeline defaults. Zero workers means one per CPU.
const (
	DefaultPipelineWorkers = 0
)

// Index defaults.
const (
	DefaultIndexPrefix          = "cache_file"
	DefaultIndexCompressArchive = false
)

// Logging defaults.
const (
	DefaultLoggingLevel = "info"
	DefaultLoggingJSON  = false
)

// Telemetry defaults.
const (
	DefaultTelemetryOTLPEndpoint = ""
	DefaultTelemetryOTLPInsecure = false
	DefaultTelemetryMetricsAddr  = ""
	DefaultTelemetryEnvironment  = ""
	DefaultTelemetryOTLPHeaders  = ""
	DefaultTelemetryDebugTrace   = false
	DefaultTelemetrySampleRatio  = 0.0
)
