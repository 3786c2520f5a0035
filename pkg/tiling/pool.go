package tiling

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/geosplit/pkg/partition"
)

// HandleFunc consumes one outcome. It is always called from the goroutine
// that invoked Pool.Run, one outcome at a time.
type HandleFunc func(Outcome) error

// Pool runs a Processor over the cells of one source with bounded
// parallelism.
type Pool struct {
	processor Processor
	workers   int
}

// NewPool creates a pool. workers <= 0 selects runtime.NumCPU.
func NewPool(processor Processor, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{processor: processor, workers: workers}
}

// Workers returns the parallelism degree.
func (p *Pool) Workers() int { return p.workers }

// Run processes every cell of parent and passes each outcome to handle. Cells
// complete in no particular order. The first processing or handler error
// cancels the cells not yet started; Run still waits for every in-flight
// cell before returning.
func (p *Pool) Run(ctx context.Context, parent string, cells []partition.Cell, handle HandleFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	results := make(chan Outcome)
	waitErr := make(chan error, 1)

	go func() {
		for _, cell := range cells {
			if gctx.Err() != nil {
				break
			}

			g.Go(func() error {
				outcome, err := p.processor.Process(gctx, parent, cell)
				if err != nil {
					return fmt.Errorf("tile %d/%d: %w", cell.X, cell.Y, err)
				}

				select {
				case results <- outcome:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}

		waitErr <- g.Wait()

		close(results)
	}()

	var handleErr error

	for outcome := range results {
		if handleErr != nil {
			continue
		}

		handleErr = handle(outcome)
		if handleErr != nil {
			cancel()
		}
	}

	err := <-waitErr

	if handleErr != nil {
		return handleErr
	}

	if err != nil {
		return err
	}

	// A cancelled parent may stop dispatch before any worker observes it.
	return ctx.Err()
}
