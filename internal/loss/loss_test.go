package loss

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

func fill(rows, cols int, v float64) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = v
		}
	}
	return out
}

// naiveBCE is the textbook formulation on probabilities.
func naiveBCE(x, y, pw float64) float64 {
	p := 1 / (1 + math.Exp(-x))
	return -(pw*y*math.Log(p) + (1-y)*math.Log(1-p))
}

var (
	pred   = [][]float64{{2.5, -1, 0}, {-3, 0.5, 4}}
	target = [][]float64{{1, 0, 1}, {0, 0, 1}}
)

func TestElementMatchesNaive(t *testing.T) {
	for _, x := range []float64{-5, -1, 0, 0.3, 2, 6} {
		for _, y := range []float64{0, 1} {
			for _, pw := range []float64{1, 2.5} {
				assert.InDelta(t, naiveBCE(x, y, pw), Element(x, y, pw), 1e-9, "x=%v y=%v pw=%v", x, y, pw)
			}
		}
	}
}

func TestZeroConfidenceIsZero(t *testing.T) {
	extreme := [][]float64{{1e6, -1e6, 0}, {-1e300, 1e300, 3}}
	for _, p := range [][][]float64{pred, extreme} {
		got, err := BCE{PosWeight: []float64{1, 2, 3}}.ComputeElementwise(p, target, fill(2, 3, 0))
		require.NoError(t, err)
		if got != 0 {
			t.Errorf("got %v, want exactly 0", got)
		}
	}
}

func TestUnitConfidenceIsUnweighted(t *testing.T) {
	var sum float64
	for i := range pred {
		for j := range pred[i] {
			sum += naiveBCE(pred[i][j], target[i][j], 1)
		}
	}
	want := sum / 6

	got, err := BCE{}.Compute(pred, target, []float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
}

func TestConfidenceScales(t *testing.T) {
	full, err := BCE{}.Compute(pred, target, []float64{1, 1})
	require.NoError(t, err)
	half, err := BCE{}.Compute(pred, target, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, full/2, half, 1e-12)

	// Per-sample weights broadcast over classes.
	onlyFirst, err := BCE{}.Compute(pred, target, []float64{1, 0})
	require.NoError(t, err)
	var first float64
	for j := range pred[0] {
		first += Element(pred[0][j], target[0][j], 1)
	}
	assert.InDelta(t, first/6, onlyFirst, 1e-12)
}

func TestExtremeLogitsFinite(t *testing.T) {
	extreme := [][]float64{{1e4, -1e4}, {-1e4, 1e4}}
	tgt := [][]float64{{1, 0}, {1, 0}}
	got, err := BCE{PosWeight: []float64{3, 3}}.ComputeElementwise(extreme, tgt, fill(2, 2, 1))
	require.NoError(t, err)
	assert.False(t, math.IsInf(got, 0) || math.IsNaN(got), "got %v", got)

	// Correct confident predictions cost nothing.
	correct, err := BCE{}.ComputeElementwise([][]float64{{1e4, -1e4}}, [][]float64{{1, 0}}, fill(1, 2, 1))
	require.NoError(t, err)
	assert.InDelta(t, 0, correct, 1e-12)
}

func TestShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"empty", func() error {
			_, err := BCE{}.Compute(nil, nil, nil)
			return err
		}, ErrEmpty},
		{"confidence count", func() error {
			_, err := BCE{}.Compute(pred, target, []float64{1})
			return err
		}, ErrShapeMismatch},
		{"ragged target", func() error {
			_, err := BCE{}.ComputeElementwise(pred, [][]float64{{1, 0, 1}, {0, 1}}, fill(2, 3, 1))
			return err
		}, ErrShapeMismatch},
		{"pos weight length", func() error {
			_, err := BCE{PosWeight: []float64{1}}.Compute(pred, target, []float64{1, 1})
			return err
		}, ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMaskConfidence(t *testing.T) {
	m := raster.New(1, 2, 2)
	copy(m.Data, []float32{1, 2, 3, 2})
	got, err := MaskConfidence(m)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-12)

	_, err = MaskConfidence(nil)
	assert.True(t, errors.Is(err, ErrEmpty))
}
