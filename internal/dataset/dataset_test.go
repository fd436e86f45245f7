package dataset

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/marida-corpus-mcp/internal/augment"
	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/dataset/datasettest"
	"github.com/ironsheep/marida-corpus-mcp/internal/labels"
	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

var trainIDs = []string{"1-12-19_48MYU_0", "1-12-19_48MYU_1", "4-3-20_16PCC_12"}

func openTrain(t *testing.T, opts datasettest.Options, dsOpts ...Option) *Dataset {
	t.Helper()
	cfg := datasettest.Write(t, opts)
	d, err := Open(cfg, Train, dsOpts...)
	require.NoError(t, err)
	return d
}

func TestOpenAndGet(t *testing.T) {
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}})
	require.Equal(t, 3, d.Size())
	assert.Equal(t, Train, d.Split())

	s, err := d.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "4-3-20_16PCC_12", s.Identifier.String())
	assert.Equal(t, [3]int{4, 8, 8}, s.Image.Shape())
	assert.Equal(t, [3]int{1, 8, 8}, s.Confidence.Shape())
	assert.Equal(t, [3]int{1, 8, 8}, s.ClassMask.Shape())
	assert.Len(t, s.Labels, 15)

	// Patch 3: band 7 (index 3) of the image holds 300 + 60 + i%10.
	assert.Equal(t, float32(360), s.Image.At(3, 0, 0))

	want := datasettest.LabelVector(3, 15)
	for i, v := range want {
		assert.Equal(t, float32(v), s.Labels[i], "class %d", i)
	}
}

func TestGetIsFreshEachCall(t *testing.T) {
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}})

	first, err := d.Get(0)
	require.NoError(t, err)
	first.Image.Data[0] = -1
	first.Labels[0] = 9

	second, err := d.Get(0)
	require.NoError(t, err)
	assert.NotEqual(t, float32(-1), second.Image.Data[0])
	assert.NotEqual(t, float32(9), second.Labels[0])
}

func TestEmptySplit(t *testing.T) {
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: nil}})
	assert.Equal(t, 0, d.Size())

	_, err := d.Get(0)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange), "got %v", err)
}

func TestGetOutOfRange(t *testing.T) {
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}})
	for _, i := range []int{-1, 3, 100} {
		_, err := d.Get(i)
		assert.True(t, errors.Is(err, ErrIndexOutOfRange), "index %d: got %v", i, err)
	}
}

func TestGetErrors(t *testing.T) {
	d := openTrain(t, datasettest.Options{
		Splits:     map[string][]string{Train: trainIDs},
		NoLabel:    []string{trainIDs[0]},
		NoRasters:  []string{trainIDs[1]},
		Misaligned: []string{trainIDs[2]},
	})

	tests := []struct {
		index int
		want  error
	}{
		{0, labels.ErrNotFound},
		{1, raster.ErrMissing},
		{2, raster.ErrAlignment},
	}
	for _, tt := range tests {
		s, err := d.Get(tt.index)
		if !errors.Is(err, tt.want) {
			t.Errorf("index %d: got %v, want %v", tt.index, err, tt.want)
		}
		if s != nil {
			t.Errorf("index %d: expected no sample", tt.index)
		}
		assert.Contains(t, err.Error(), trainIDs[tt.index])
	}
}

func TestOpenFailsFast(t *testing.T) {
	t.Run("missing data dir", func(t *testing.T) {
		cfg := config.Default(t.TempDir() + "/nope")
		_, err := Open(cfg, Train)
		assert.True(t, errors.Is(err, config.ErrPathMissing), "got %v", err)
	})

	t.Run("missing split file", func(t *testing.T) {
		cfg := datasettest.Write(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}})
		_, err := Open(cfg, Val)
		assert.True(t, errors.Is(err, config.ErrPathMissing), "got %v", err)
	})

	t.Run("missing labels", func(t *testing.T) {
		cfg := datasettest.Write(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}})
		require.NoError(t, os.Remove(cfg.LabelsFile))
		_, err := Open(cfg, Train)
		assert.True(t, errors.Is(err, labels.ErrSourceMissing), "got %v", err)
	})

	t.Run("malformed identifier", func(t *testing.T) {
		cfg := datasettest.Write(t, datasettest.Options{Splits: map[string][]string{Train: {"1-12-19_48MYU_0", "bad_id"}}})
		_, err := Open(cfg, Train)
		assert.True(t, errors.Is(err, patch.ErrMalformedIdentifier), "got %v", err)
		assert.Contains(t, err.Error(), ":2:")
	})
}

func TestReadSplitBlankLines(t *testing.T) {
	path := t.TempDir() + "/train_X.txt"
	require.NoError(t, os.WriteFile(path, []byte("\n1-12-19_48MYU_0\n  \n 4-3-20_16PCC_12 \n\n"), 0o644))

	ids, err := ReadSplit(path)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "4-3-20_16PCC_12", ids[1].String())
}

func TestConcurrentGet(t *testing.T) {
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}})

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for w := 0; w < 30; w++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := d.Get(i % d.Size())
			if err != nil {
				errs <- err
				return
			}
			if s.Identifier.String() != trainIDs[i%d.Size()] {
				errs <- errors.New("wrong sample for index")
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestTransform(t *testing.T) {
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}})
	raw, err := d.Get(0)
	require.NoError(t, err)

	eval := d.Transformed(augment.New(false))
	s, err := eval.Get(0)
	require.NoError(t, err)

	want := (float64(raw.Image.At(0, 1, 1))/10000 - augment.Sentinel2.Mean[0]) / augment.Sentinel2.Std[0]
	assert.InDelta(t, want, float64(s.Image.At(0, 1, 1)), 1e-5)
	assert.Equal(t, raw.Confidence.Data, s.Confidence.Data)
	assert.Equal(t, raw.Labels, s.Labels)

	// The original view is unaffected.
	again, err := d.Get(0)
	require.NoError(t, err)
	assert.Equal(t, raw.Image.Data, again.Image.Data)
}

func TestCache(t *testing.T) {
	cache, err := raster.NewCache(4)
	require.NoError(t, err)
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs}}, WithCache(cache))

	_, err = d.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())
}

func TestOpenCorpus(t *testing.T) {
	cfg := datasettest.Write(t, datasettest.Options{Splits: map[string][]string{
		Train: trainIDs,
		Val:   {"2-2-21_18QYF_3"},
		Test:  {"2-2-21_18QYF_4", "2-2-21_18QYF_5"},
	}})

	c, err := OpenCorpus(cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{Train: 3, Val: 1, Test: 2}, c.Sizes())
	assert.Same(t, c.Train.Labels(), c.Test.Labels())

	v, err := c.Split(Val)
	require.NoError(t, err)
	s, err := v.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "2-2-21_18QYF_3", s.Identifier.String())

	_, err = c.Split("holdout")
	assert.Error(t, err)
}

func TestOpenCorpusOverlap(t *testing.T) {
	cfg := datasettest.Write(t, datasettest.Options{Splits: map[string][]string{
		Train: trainIDs,
		Val:   {"2-2-21_18QYF_3"},
		Test:  {trainIDs[1]},
	}})

	_, err := OpenCorpus(cfg)
	require.True(t, errors.Is(err, ErrSplitOverlap), "got %v", err)
	assert.Contains(t, err.Error(), trainIDs[1])
	assert.Contains(t, err.Error(), "train")
	assert.Contains(t, err.Error(), "test")
}

func TestIterate(t *testing.T) {
	ids := []string{"1-1-20_AAAAA_0", "1-1-20_AAAAA_1", "1-1-20_AAAAA_2", "1-1-20_AAAAA_3", "1-1-20_AAAAA_4"}
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: ids}})

	tests := []struct {
		name  string
		opts  BatchOptions
		sizes []int
	}{
		{"keep last", BatchOptions{BatchSize: 2, Workers: 2}, []int{2, 2, 1}},
		{"drop last", BatchOptions{BatchSize: 2, DropLast: true}, []int{2, 2}},
		{"shuffled", BatchOptions{BatchSize: 3, Shuffle: true, Seed: 5}, []int{3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sizes []int
			var seen []string
			err := Iterate(context.Background(), d, tt.opts, func(b Batch) error {
				assert.Equal(t, len(sizes), b.Index)
				sizes = append(sizes, len(b.Samples))
				for _, s := range b.Samples {
					seen = append(seen, s.Identifier.String())
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.sizes, sizes)

			order := Order(len(ids), tt.opts)
			for i, id := range seen {
				assert.Equal(t, ids[order[i]], id)
			}
		})
	}
}

func TestIterateStopsOnError(t *testing.T) {
	ids := []string{"1-1-20_AAAAA_0", "1-1-20_AAAAA_1", "1-1-20_AAAAA_2"}
	d := openTrain(t, datasettest.Options{
		Splits:    map[string][]string{Train: ids},
		NoRasters: []string{ids[1]},
	})

	calls := 0
	err := Iterate(context.Background(), d, BatchOptions{BatchSize: 1}, func(Batch) error {
		calls++
		return nil
	})
	assert.True(t, errors.Is(err, raster.ErrMissing), "got %v", err)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Iterate(ctx, d, BatchOptions{BatchSize: 1}, func(Batch) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	assert.Error(t, Iterate(context.Background(), d, BatchOptions{}, func(Batch) error { return nil }))
}

func TestVerify(t *testing.T) {
	d := openTrain(t, datasettest.Options{
		Splits:     map[string][]string{Train: append(trainIDs, "9-9-19_99ZZZ_9")},
		NoLabel:    []string{trainIDs[0]},
		NoRasters:  []string{trainIDs[1]},
		Misaligned: []string{trainIDs[2]},
	})

	r, err := Verify(context.Background(), d, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 1, r.OK)
	require.Len(t, r.Problems, 3)

	kinds := []string{ProblemLabel, ProblemRaster, ProblemAlignment}
	for i, p := range r.Problems {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, trainIDs[i], p.Identifier)
		assert.Equal(t, kinds[i], p.Kind)
	}

	sized, err := Verify(context.Background(), d, 16, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, sized.OK)
	assert.Equal(t, ProblemImageSize, sized.Problems[len(sized.Problems)-1].Kind)
}

func TestBandStatistics(t *testing.T) {
	d := openTrain(t, datasettest.Options{Splits: map[string][]string{Train: trainIDs[:2]}})

	stats, err := BandStatistics(context.Background(), d, 2)
	require.NoError(t, err)
	require.Len(t, stats, 4)

	// Patches 1 and 2 hold 100 or 200 plus b*10 plus a 0..9 ramp (64 pixels).
	var vals []float64
	for _, base := range []float64{100, 200} {
		for i := 0; i < 64; i++ {
			vals = append(vals, base+float64(i%10))
		}
	}
	var mean, sq float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(vals)))

	assert.InDelta(t, mean, stats[0].Mean, 1e-9)
	assert.InDelta(t, std, stats[0].Std, 1e-9)
	// Band index 3 is raster band 7: offset by 60.
	assert.InDelta(t, mean+60, stats[3].Mean, 1e-9)
}
