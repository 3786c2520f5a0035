package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".geosplit"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for geosplit settings.
const envPrefix = "GEOSPLIT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from defaults, the config file, then
// GEOSPLIT_* env vars. A non-empty configPath must exist; otherwise
// .geosplit.yaml is searched in CWD and $HOME and may be absent.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("directories.pending", DefaultPendingDir)
	viperCfg.SetDefault("directories.buffer", DefaultBufferDir)
	viperCfg.SetDefault("directories.completed", DefaultCompletedDir)
	viperCfg.SetDefault("directories.done", DefaultDoneDir)
	viperCfg.SetDefault("directories.archive", DefaultArchiveDir)

	viperCfg.SetDefault("tool.path", DefaultToolPath)
	viperCfg.SetDefault("tool.timeout", DefaultToolTimeout)

	viperCfg.SetDefault("split.threshold", DefaultSplitThreshold)
	viperCfg.SetDefault("split.unit", DefaultSplitUnit)
	viperCfg.SetDefault("split.multiplier", DefaultSplitMultiplier)
	viperCfg.SetDefault("split.overlap", DefaultSplitOverlap)
	viperCfg.SetDefault("split.max_rounds", DefaultSplitMaxRounds)

	viperCfg.SetDefault("pipeline.workers", DefaultPipelineWorkers)

	viperCfg.SetDefault("index.prefix", DefaultIndexPrefix)
	viperCfg.SetDefault("index.compress_archive", DefaultIndexCompressArchive)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.json", DefaultLoggingJSON)

	viperCfg.SetDefault("telemetry.otlp_endpoint", DefaultTelemetryOTLPEndpoint)
	viperCfg.SetDefault("telemetry.otlp_insecure", DefaultTelemetryOTLPInsecure)
	viperCfg.SetDefault("telemetry.metrics_addr", DefaultTelemetryMetricsAddr)
	viperCfg.SetDefault("telemetry.environment", DefaultTelemetryEnvironment)
	viperCfg.SetDefault("telemetry.otlp_headers", DefaultTelemetryOTLPHeaders)
	viperCfg.SetDefault("telemetry.debug_trace", DefaultTelemetryDebugTrace)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultTelemetrySampleRatio)
}
