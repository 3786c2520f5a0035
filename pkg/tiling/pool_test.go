package tiling_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool/osmtooltest"
	"github.com/Sumatoshi-tech/geosplit/pkg/partition"
	"github.com/Sumatoshi-tech/geosplit/pkg/tiling"
)

// stubProcessor records concurrency and returns canned outcomes.
type stubProcessor struct {
	delay   time.Duration
	failAt  int
	failErr error

	active    atomic.Int32
	maxActive atomic.Int32
	calls     atomic.Int32
	finished  atomic.Int32
}

func (s *stubProcessor) Process(ctx context.Context, _ string, cell partition.Cell) (tiling.Outcome, error) {
	n := s.calls.Add(1)
	defer s.finished.Add(1)

	cur := s.active.Add(1)
	defer s.active.Add(-1)

	for {
		prev := s.maxActive.Load()
		if cur <= prev || s.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	if s.failErr != nil && int(n) == s.failAt {
		return tiling.Outcome{}, s.failErr
	}

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return tiling.Outcome{}, ctx.Err()
	}

	return tiling.Outcome{Kind: tiling.OutcomeFinal, Cell: cell}, nil
}

func cells(n int) []partition.Cell {
	grid := partition.Planner{Multiplier: n, Unit: 1}.Plan(geo.MustBoundingBox(0, 1, 0, 1), 1)

	return grid.Cells()
}

func TestPool_DefaultWorkers(t *testing.T) {
	t.Parallel()

	assert.Positive(t, tiling.NewPool(&stubProcessor{}, 0).Workers())
	assert.Equal(t, 3, tiling.NewPool(&stubProcessor{}, 3).Workers())
}

func TestPool_HandlesEveryCell(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{delay: time.Millisecond}
	pool := tiling.NewPool(proc, 4)

	all := cells(5)
	seen := make(map[[2]int]bool)

	err := pool.Run(context.Background(), "src", all, func(o tiling.Outcome) error {
		// Handler runs on one goroutine, so no locking is needed here.
		seen[[2]int{o.Cell.X, o.Cell.Y}] = true

		return nil
	})
	require.NoError(t, err)

	assert.Len(t, seen, len(all))
	assert.LessOrEqual(t, proc.maxActive.Load(), int32(4))
}

func TestPool_BoundedParallelism(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{delay: 20 * time.Millisecond}

	require.NoError(t, tiling.NewPool(proc, 2).Run(context.Background(), "src", cells(3), func(tiling.Outcome) error {
		return nil
	}))

	assert.Equal(t, int32(2), proc.maxActive.Load())
}

func TestPool_WorkerErrorStopsDispatchAndDrains(t *testing.T) {
	t.Parallel()

	boom := errors.New("crop failed")
	proc := &stubProcessor{delay: 10 * time.Millisecond, failAt: 2, failErr: boom}

	all := cells(6)

	err := tiling.NewPool(proc, 2).Run(context.Background(), "src", all, func(tiling.Outcome) error {
		return nil
	})
	require.ErrorIs(t, err, boom)

	assert.Less(t, int(proc.calls.Load()), len(all))
	assert.Equal(t, proc.calls.Load(), proc.finished.Load(), "every started cell finishes before Run returns")
	assert.Zero(t, proc.active.Load())
}

func TestPool_HandlerErrorCancels(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{delay: 5 * time.Millisecond}
	stop := errors.New("index write failed")

	var handled int

	err := tiling.NewPool(proc, 2).Run(context.Background(), "src", cells(6), func(tiling.Outcome) error {
		handled++

		return stop
	})
	require.ErrorIs(t, err, stop)

	assert.Equal(t, 1, handled, "no outcome is handled after the handler fails")
	assert.Equal(t, proc.calls.Load(), proc.finished.Load())
}

func TestPool_ParentCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tiling.NewPool(&stubProcessor{delay: time.Second}, 2).Run(ctx, "src", cells(4), func(tiling.Outcome) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPool_WithWorker(t *testing.T) {
	t.Parallel()

	region := geo.MustBoundingBox(0, 4, 0, 4)
	dir := t.TempDir()
	buffer := filepath.Join(dir, "buffer")
	require.NoError(t, os.MkdirAll(buffer, 0o755))

	tool := osmtooltest.New(osmtooltest.Uniform(region, 8, 10)...)
	source := filepath.Join(dir, "square.osm.pbf")

	size, err := tool.WriteExtract(source, region)
	require.NoError(t, err)

	planner := partition.NewPlanner()
	planner.Unit = uint64(size / 3)

	grid := planner.Plan(region, size)

	var (
		mu    sync.Mutex
		kinds = map[tiling.OutcomeKind]int{}
	)

	pool := tiling.NewPool(tiling.NewWorker(tool, buffer, uint64(size/3), nil), 3)

	require.NoError(t, pool.Run(context.Background(), source, grid.Cells(), func(o tiling.Outcome) error {
		mu.Lock()
		defer mu.Unlock()

		kinds[o.Kind]++

		return nil
	}))

	assert.Equal(t, grid.Len(), tool.CropCalls())
	assert.Equal(t, grid.Len(), kinds[tiling.OutcomeFinal])
}
