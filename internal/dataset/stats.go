package dataset

import (
	"context"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// BandStat is the population mean and standard deviation of one image band.
type BandStat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// moments accumulates pooled statistics with Chan's parallel update.
type moments struct {
	n, mean, m2 float64
}

func (m *moments) merge(n, mean, variance float64) {
	if n == 0 {
		return
	}
	total := m.n + n
	delta := mean - m.mean
	m.mean += delta * n / total
	m.m2 += variance*n + delta*delta*m.n*n/total
	m.n = total
}

// BandStatistics computes per-band statistics of the raw image values over
// every sample in d. Transforms are not applied. The first load error stops
// the pass.
func BandStatistics(ctx context.Context, d *Dataset, workers int) ([]BandStat, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	var acc []moments

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < d.Size(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := d.raw(i)
			if err != nil {
				return err
			}
			vals := make([]float64, s.Image.Height*s.Image.Width)
			local := make([][3]float64, s.Image.Bands)
			for b := 0; b < s.Image.Bands; b++ {
				for j, v := range s.Image.Band(b) {
					vals[j] = float64(v)
				}
				mean, variance := stat.PopMeanVariance(vals, nil)
				local[b] = [3]float64{float64(len(vals)), mean, variance}
			}

			mu.Lock()
			defer mu.Unlock()
			if acc == nil {
				acc = make([]moments, len(local))
			}
			for b, l := range local {
				acc[b].merge(l[0], l[1], l[2])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]BandStat, len(acc))
	for b, m := range acc {
		if m.n > 0 {
			out[b] = BandStat{Mean: m.mean, Std: math.Sqrt(m.m2 / m.n)}
		}
	}
	return out, nil
}
