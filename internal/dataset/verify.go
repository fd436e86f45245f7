package dataset

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/marida-corpus-mcp/internal/labels"
	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// Problem kinds reported by Verify.
const (
	ProblemLabel      = "label_missing"
	ProblemRaster     = "raster_missing"
	ProblemRead       = "raster_unreadable"
	ProblemAlignment  = "raster_misaligned"
	ProblemImageSize  = "image_size"
	ProblemUnexpected = "unexpected"
)

// Problem is one defect found in a split.
type Problem struct {
	Index      int    `json:"index"`
	Identifier string `json:"identifier"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
}

// VerifyReport summarizes a Verify pass over one split.
type VerifyReport struct {
	Split    string    `json:"split"`
	Total    int       `json:"total"`
	OK       int       `json:"ok"`
	Problems []Problem `json:"problems"`
}

// Verify loads every sample of d without transforms and reports each defect.
// It does not stop at the first problem. imageSize, when positive, is the
// expected patch height and width. The returned error is non-nil only when
// ctx is cancelled.
func Verify(ctx context.Context, d *Dataset, imageSize, workers int) (*VerifyReport, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	report := &VerifyReport{Split: d.split, Total: d.Size()}
	record := func(p Problem) {
		mu.Lock()
		report.Problems = append(report.Problems, p)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < d.Size(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id := d.ids[i].String()
			s, err := d.raw(i)
			if err != nil {
				record(Problem{Index: i, Identifier: id, Kind: classify(err), Detail: err.Error()})
				return nil
			}
			if imageSize > 0 && (s.Image.Height != imageSize || s.Image.Width != imageSize) {
				record(Problem{
					Index:      i,
					Identifier: id,
					Kind:       ProblemImageSize,
					Detail:     fmt.Sprintf("image is %dx%d, want %dx%d", s.Image.Height, s.Image.Width, imageSize, imageSize),
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Problems, func(a, b int) bool {
		pa, pb := report.Problems[a], report.Problems[b]
		if pa.Index != pb.Index {
			return pa.Index < pb.Index
		}
		return pa.Kind < pb.Kind
	})
	bad := make(map[int]bool, len(report.Problems))
	for _, p := range report.Problems {
		bad[p.Index] = true
	}
	report.OK = report.Total - len(bad)
	return report, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, labels.ErrNotFound):
		return ProblemLabel
	case errors.Is(err, raster.ErrMissing):
		return ProblemRaster
	case errors.Is(err, raster.ErrAlignment):
		return ProblemAlignment
	case errors.Is(err, raster.ErrRead):
		return ProblemRead
	default:
		return ProblemUnexpected
	}
}
