// Package loss computes confidence-weighted binary cross-entropy on raw
// logits.
package loss

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

var (
	// ErrShapeMismatch is returned when predictions, targets, confidence or
	// positive weights disagree in shape.
	ErrShapeMismatch = errors.New("loss input shape mismatch")

	// ErrEmpty is returned for a batch with no elements.
	ErrEmpty = errors.New("empty batch")
)

// BCE is binary cross-entropy with logits, optionally weighting positives
// per class. A nil PosWeight weights every class by 1.
type BCE struct {
	PosWeight []float64
}

// Element returns the unreduced loss for logit x, target y and positive
// weight pw. It stays finite for any finite x.
func Element(x, y, pw float64) float64 {
	// log(1 + e^-x) computed without overflow for large |x|.
	softplusNeg := math.Log1p(math.Exp(-math.Abs(x))) + math.Max(-x, 0)
	return (1-y)*x + (1+(pw-1)*y)*softplusNeg
}

// Compute returns the mean confidence-weighted loss where conf holds one
// weight per sample, broadcast over classes.
func (l BCE) Compute(pred, target [][]float64, conf []float64) (float64, error) {
	if len(conf) != len(pred) {
		return 0, fmt.Errorf("%w: %d confidence weights for %d samples", ErrShapeMismatch, len(conf), len(pred))
	}
	weights := make([][]float64, len(pred))
	for i := range pred {
		row := make([]float64, len(pred[i]))
		for j := range row {
			row[j] = conf[i]
		}
		weights[i] = row
	}
	return l.ComputeElementwise(pred, target, weights)
}

// ComputeElementwise returns the mean loss with one confidence weight per
// element. A weight of 0 removes the element's contribution entirely; weights
// of 1 reproduce the unweighted mean.
func (l BCE) ComputeElementwise(pred, target, conf [][]float64) (float64, error) {
	if len(pred) == 0 {
		return 0, ErrEmpty
	}
	if len(target) != len(pred) || len(conf) != len(pred) {
		return 0, fmt.Errorf("%w: %d predictions, %d targets, %d confidence rows",
			ErrShapeMismatch, len(pred), len(target), len(conf))
	}
	classes := len(pred[0])
	if classes == 0 {
		return 0, ErrEmpty
	}
	if l.PosWeight != nil && len(l.PosWeight) != classes {
		return 0, fmt.Errorf("%w: %d positive weights for %d classes", ErrShapeMismatch, len(l.PosWeight), classes)
	}

	terms := make([]float64, 0, len(pred)*classes)
	for i := range pred {
		if len(pred[i]) != classes || len(target[i]) != classes || len(conf[i]) != classes {
			return 0, fmt.Errorf("%w: sample %d has %d predictions, %d targets, %d weights, want %d",
				ErrShapeMismatch, i, len(pred[i]), len(target[i]), len(conf[i]), classes)
		}
		for j := 0; j < classes; j++ {
			c := conf[i][j]
			if c == 0 {
				terms = append(terms, 0)
				continue
			}
			pw := 1.0
			if l.PosWeight != nil {
				pw = l.PosWeight[j]
			}
			terms = append(terms, c*Element(pred[i][j], target[i][j], pw))
		}
	}
	return floats.Sum(terms) / float64(len(terms)), nil
}

// MaskConfidence reduces a confidence raster to a single per-sample weight,
// the mean over its pixels.
func MaskConfidence(mask *raster.Raster) (float64, error) {
	if mask == nil || len(mask.Data) == 0 {
		return 0, ErrEmpty
	}
	vals := make([]float64, len(mask.Data))
	for i, v := range mask.Data {
		vals[i] = float64(v)
	}
	return stat.Mean(vals, nil), nil
}
