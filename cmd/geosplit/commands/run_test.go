package commands

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/geosplit/pkg/config"
	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool/osmtooltest"
)

type runFixture struct {
	root       string
	configPath string
	tool       *osmtooltest.Tool
	options    []osmtool.Options
}

func newRunFixture(t *testing.T, points ...osmtooltest.Point) *runFixture {
	t.Helper()

	root := t.TempDir()
	configPath := filepath.Join(root, "geosplit.yaml")

	content := "directories:\n" +
		"  pending: " + filepath.Join(root, "pending") + "\n" +
		"  buffer: " + filepath.Join(root, "buffer") + "\n" +
		"  completed: " + filepath.Join(root, "completed") + "\n" +
		"  done: " + filepath.Join(root, "done") + "\n" +
		"split:\n  threshold: 1KB\n  unit: 1KB\n" +
		"pipeline:\n  workers: 2\n"

	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pending"), 0o755))

	return &runFixture{root: root, configPath: configPath, tool: osmtooltest.New(points...)}
}

func (f *runFixture) addSource(t *testing.T, name string, region geo.BoundingBox) {
	t.Helper()

	_, err := f.tool.WriteExtract(filepath.Join(f.root, "pending", name), region)
	require.NoError(t, err)
}

func (f *runFixture) execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRunCommandWithDeps(func(opts osmtool.Options) osmtool.Tool {
		f.options = append(f.options, opts)

		return f.tool
	})

	var stdout, stderr bytes.Buffer

	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", f.configPath}, args...))

	err := cmd.Execute()

	return stdout.String(), stderr.String(), err
}

func TestRun_SplitsAndReportsJSON(t *testing.T) {
	t.Parallel()

	box := geo.MustBoundingBox(10, 14, 50, 54)
	f := newRunFixture(t, osmtooltest.Uniform(box, 4, 100)...)
	f.addSource(t, "region.osm.pbf", box)

	stdout, stderr, err := f.execute(t, "--format", FormatJSON)
	require.NoError(t, err, stderr)

	var report map[string]any

	require.NoError(t, json.Unmarshal([]byte(stdout), &report))

	assert.NotEmpty(t, report["run_id"])
	assert.InDelta(t, 1, report["sources"], 0)
	assert.InDelta(t, 1, report["split_sources"], 0)
	assert.InDelta(t, 16, report["index_entries"], 0)
	assert.Equal(t, map[string]any{"final": 16.0, "oversized": 0.0, "empty": 0.0}, report["tiles"])

	assert.FileExists(t, filepath.Join(f.root, "done", "region.osm.pbf"))
	assert.Contains(t, stderr, "run_id=")
	assert.Contains(t, stderr, "pass configured")
}

func TestRun_UnitFlagSizesGrid(t *testing.T) {
	t.Parallel()

	box := geo.MustBoundingBox(10, 14, 50, 54)
	f := newRunFixture(t, osmtooltest.Uniform(box, 4, 100)...)
	f.addSource(t, "region.osm.pbf", box)

	// About 16.5 units of 100B against a 1KB threshold: ceil(sqrt(16.5))*2.
	stdout, stderr, err := f.execute(t, "--format", FormatJSON, "--unit", "100B")
	require.NoError(t, err, stderr)

	var report map[string]any

	require.NoError(t, json.Unmarshal([]byte(stdout), &report))

	assert.Equal(t, map[string]any{"final": 16.0, "oversized": 0.0, "empty": 84.0}, report["tiles"])
	assert.Equal(t, 100, f.tool.CropCalls())
}

func TestObservabilityConfig_MapsTelemetry(t *testing.T) {
	t.Parallel()

	cmd := newRunCommandWithDeps(newOsmconvert)
	rc := &RunCommand{}

	var cfg config.Config

	cfg.Logging.Level = "warn"
	cfg.Telemetry = config.TelemetryConfig{
		OTLPEndpoint: "collector:4317",
		OTLPInsecure: true,
		OTLPHeaders:  "api-key=secret, tenant=geo",
		DebugTrace:   true,
		SampleRatio:  0.25,
		MetricsAddr:  ":9464",
		Environment:  "staging",
	}

	obsCfg := rc.observabilityConfig(cmd, &cfg)

	assert.Equal(t, "collector:4317", obsCfg.OTLPEndpoint)
	assert.True(t, obsCfg.OTLPInsecure)
	assert.Equal(t, map[string]string{"api-key": "secret", "tenant": "geo"}, obsCfg.OTLPHeaders)
	assert.True(t, obsCfg.DebugTrace)
	assert.InDelta(t, 0.25, obsCfg.SampleRatio, 1e-12)
	assert.True(t, obsCfg.Prometheus)
	assert.Equal(t, "staging", obsCfg.Environment)
	assert.Equal(t, slog.LevelWarn, obsCfg.LogLevel)
	assert.Equal(t, cmd.ErrOrStderr(), obsCfg.LogWriter)
}

func TestRun_DebugTraceFlag(t *testing.T) {
	t.Parallel()

	cmd := newRunCommandWithDeps(newOsmconvert)
	require.NoError(t, cmd.Flags().Parse([]string{"--debug-trace", "--unit", "256MiB"}))

	rc := &RunCommand{debugTrace: true, unit: "256MiB"}

	cfg, err := config.LoadConfig(writeTempConfig(t))
	require.NoError(t, err)
	require.False(t, cfg.Telemetry.DebugTrace)

	require.NoError(t, rc.applyFlags(cmd, cfg))

	assert.True(t, cfg.Telemetry.DebugTrace)
	assert.Equal(t, "256MiB", cfg.Split.Unit)
	assert.True(t, rc.observabilityConfig(cmd, cfg).DebugTrace)
}

func writeTempConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "geosplit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	return path
}

func TestRun_YAMLSummary(t *testing.T) {
	t.Parallel()

	box := geo.MustBoundingBox(0, 1, 0, 1)
	f := newRunFixture(t, osmtooltest.Point{Lon: 0.5, Lat: 0.5, Bytes: 10})
	f.addSource(t, "small.osm.pbf", box)

	stdout, stderr, err := f.execute(t, "--format", FormatYAML, "--silent")
	require.NoError(t, err)
	assert.Empty(t, stderr)

	var report struct {
		RunID         string `yaml:"run_id"`
		CopiedSources int    `yaml:"copied_sources"`
		IndexEntries  int    `yaml:"index_entries"`
		IndexPath     string `yaml:"index_path"`
	}

	require.NoError(t, yaml.Unmarshal([]byte(stdout), &report))

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.CopiedSources)
	assert.Equal(t, 1, report.IndexEntries)
	assert.FileExists(t, report.IndexPath)
}

func TestRun_NothingPendingText(t *testing.T) {
	t.Parallel()

	f := newRunFixture(t)

	stdout, _, err := f.execute(t, "--no-color")
	require.NoError(t, err)

	assert.Equal(t, "Nothing pending: index and completed directory left untouched\n", stdout)
	assert.Equal(t, 0, f.tool.StatisticsCalls())
}

func TestRun_FlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	f := newRunFixture(t)

	_, _, err := f.execute(t, "--tool", "/opt/bin/osmconvert64", "--workers", "1", "--silent")
	require.NoError(t, err)

	require.Len(t, f.options, 1)
	assert.Equal(t, "/opt/bin/osmconvert64", f.options[0].Path)
	assert.Equal(t, config.DefaultToolTimeout, f.options[0].Timeout)
	assert.NotNil(t, f.options[0].Observe)
}

func TestRun_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"format", []string{"--format", "xml"}, ErrUnknownFormat},
		{"threshold", []string{"--threshold", "huge"}, config.ErrInvalidThreshold},
		{"unit", []string{"--unit", "none"}, config.ErrInvalidUnit},
		{"multiplier", []string{"--multiplier", "-2"}, config.ErrInvalidMultiplier},
		{"workers", []string{"--workers", "-1"}, config.ErrInvalidWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newRunFixture(t)

			_, _, err := f.execute(t, tt.args...)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.options)
		})
	}
}

func TestRun_ToolFailureIsReported(t *testing.T) {
	t.Parallel()

	f := newRunFixture(t)
	f.addSource(t, "broken.osm.pbf", geo.MustBoundingBox(0, 1, 0, 1))
	f.tool.StatsErr = osmtool.ErrToolExecutionFailed

	_, _, err := f.execute(t, "--silent")
	require.ErrorIs(t, err, osmtool.ErrToolExecutionFailed)
	assert.Contains(t, err.Error(), "run ")
}
