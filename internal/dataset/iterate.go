package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchOptions controls Iterate.
type BatchOptions struct {
	BatchSize int
	Shuffle   bool
	Seed      uint64
	Workers   int // defaults to GOMAXPROCS
	DropLast  bool
}

// Batch is a group of consecutive samples in iteration order.
type Batch struct {
	Index   int
	Samples []*Sample
}

// Order returns the sample order Iterate visits: 0..n-1, or a permutation
// seeded by opts.Seed when opts.Shuffle is set.
func Order(n int, opts BatchOptions) []int {
	if !opts.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	return rand.New(rand.NewPCG(opts.Seed, opts.Seed+1)).Perm(n)
}

// Iterate loads d in batches and calls fn for each, in order. Samples within a
// batch are loaded concurrently by at most opts.Workers goroutines. The first
// load error, fn error or context cancellation stops the iteration and is
// returned.
func Iterate(ctx context.Context, d *Dataset, opts BatchOptions, fn func(Batch) error) error {
	if opts.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	order := Order(d.Size(), opts)
	for start, bi := 0, 0; start < len(order); start, bi = start+opts.BatchSize, bi+1 {
		end := min(start+opts.BatchSize, len(order))
		if opts.DropLast && end-start < opts.BatchSize {
			break
		}

		samples := make([]*Sample, end-start)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := start; i < end; i++ {
			slot, index := i-start, order[i]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				s, err := d.Get(index)
				if err != nil {
					return err
				}
				samples[slot] = s
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := fn(Batch{Index: bi, Samples: samples}); err != nil {
			return err
		}
	}
	return ctx.Err()
}
