package osmtool_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool"
)

// writeScript creates an executable shell script standing in for osmconvert.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "osmconvert")

	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

func TestOsmconvert_Statistics(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := writeScript(t, `echo "$@" > `+argsFile+`
printf 'lon min: 1.5\nlon max: 2.5\nlat min: 10\nlat max: 11\nnodes: 9\n'`)

	runner := osmtool.New(osmtool.Options{Path: tool})

	stats, err := runner.Statistics(context.Background(), "/data/planet.osm.pbf")
	require.NoError(t, err)

	assert.Equal(t, "9", stats["nodes"])

	box, ok, err := stats.BoundingBox()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geo.MustBoundingBox(1.5, 2.5, 10, 11), box)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "/data/planet.osm.pbf --out-statistics", strings.TrimSpace(string(args)))
}

func TestOsmconvert_CropArgs(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := writeScript(t, `echo "$@" > `+argsFile)

	runner := osmtool.New(osmtool.Options{Path: tool})
	box := geo.MustBoundingBox(-1.25, 3, 40, 41.5)

	require.NoError(t, runner.Crop(context.Background(), "in.osm.pbf", box, "out.osm.pbf"))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "in.osm.pbf -b=-1.25,40,3,41.5 -o=out.osm.pbf", strings.TrimSpace(string(args)))
}

func TestOsmconvert_NotFound(t *testing.T) {
	t.Parallel()

	runner := osmtool.New(osmtool.Options{Path: filepath.Join(t.TempDir(), "missing-tool")})

	_, err := runner.Statistics(context.Background(), "x.osm.pbf")
	require.ErrorIs(t, err, osmtool.ErrToolNotFound)
	assert.NotErrorIs(t, err, osmtool.ErrToolExecutionFailed)
}

func TestOsmconvert_NonZeroExit(t *testing.T) {
	t.Parallel()

	tool := writeScript(t, `echo "cannot open file" >&2
exit 3`)

	runner := osmtool.New(osmtool.Options{Path: tool})

	err := runner.Crop(context.Background(), "in.osm.pbf", geo.MustBoundingBox(0, 1, 0, 1), "out.osm.pbf")
	require.ErrorIs(t, err, osmtool.ErrToolExecutionFailed)

	var toolErr *osmtool.ToolError

	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "cannot open file", toolErr.Stderr)
	assert.Equal(t, tool, toolErr.Tool)
	assert.Contains(t, toolErr.Args, "in.osm.pbf")
}

func TestOsmconvert_Timeout(t *testing.T) {
	t.Parallel()

	tool := writeScript(t, "exec sleep 10")

	runner := osmtool.New(osmtool.Options{Path: tool, Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := runner.Statistics(context.Background(), "x.osm.pbf")

	require.ErrorIs(t, err, osmtool.ErrToolExecutionFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOsmconvert_Observe(t *testing.T) {
	t.Parallel()

	tool := writeScript(t, "exit 1")

	var (
		mu   sync.Mutex
		seen []string
		errs []error
	)

	runner := osmtool.New(osmtool.Options{
		Path: tool,
		Observe: func(_ context.Context, op string, _ time.Duration, err error) {
			mu.Lock()
			defer mu.Unlock()

			seen = append(seen, op)
			errs = append(errs, err)
		},
	})

	_, _ = runner.Statistics(context.Background(), "a")
	_ = runner.Crop(context.Background(), "a", geo.MustBoundingBox(0, 1, 0, 1), "b")

	assert.Equal(t, []string{osmtool.OpStatistics, osmtool.OpCrop}, seen)

	for _, err := range errs {
		assert.True(t, errors.Is(err, osmtool.ErrToolExecutionFailed))
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, osmtool.DefaultPath, osmtool.New(osmtool.Options{}).Path())
}
