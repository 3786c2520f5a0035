package config_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geosplit/pkg/config"
)

func TestConfig_LogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run("level_"+tt.raw, func(t *testing.T) {
			t.Parallel()

			cfg := config.Config{Logging: config.LoggingConfig{Level: tt.raw}}

			got, err := cfg.LogLevel()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_ValidateZeroValue(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	require.ErrorIs(t, cfg.Validate(), config.ErrInvalidDirectory)
}
