// Package metrics computes per-class and aggregate detection quality from
// accumulated prediction/target batches.
//
// Average precision follows the step-wise definition
//
//	AP = Σ (R_k − R_{k−1}) · P_k
//
// over distinct score thresholds in descending order, tied scores forming a
// single threshold. A class with no positive targets has no defined AP: it is
// reported as NaN, listed in Report.UndefinedClasses and left out of mAP.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Threshold is the decision threshold used for accuracy.
const Threshold = 0.5

// f1Epsilon keeps F1 finite when mean precision and recall are both zero.
const f1Epsilon = 1e-6

var (
	// ErrNoSamples is returned when the batches hold no rows.
	ErrNoSamples = errors.New("no samples to aggregate")

	// ErrShapeMismatch is returned for ragged or mismatched batches.
	ErrShapeMismatch = errors.New("metric input shape mismatch")

	// ErrNonFinite is returned when a prediction or target is NaN or infinite.
	ErrNonFinite = errors.New("non-finite metric input")
)

// Batch is one step's predictions (scores in [0, 1]) and binary targets,
// both of shape [B, C].
type Batch struct {
	Predictions [][]float64 `json:"predictions"`
	Targets     [][]float64 `json:"targets"`
}

// Curve is a precision-recall curve ordered by increasing threshold, ending
// with the (precision 1, recall 0) point. Thresholds has one fewer entry.
type Curve struct {
	Precision  []float64 `json:"precision"`
	Recall     []float64 `json:"recall"`
	Thresholds []float64 `json:"thresholds"`
}

// Report is the outcome of Aggregate.
type Report struct {
	// Metrics holds AP_class_<i>, mAP, accuracy and f1_score.
	Metrics map[string]float64 `json:"metrics"`

	APPerClass       []float64 `json:"ap_per_class"`
	UndefinedClasses []int     `json:"undefined_classes"`
	Curves           []Curve   `json:"-"`
	Samples          int       `json:"samples"`
	Classes          int       `json:"classes"`
}

// Aggregate concatenates batches along the sample axis and computes the
// report. The result does not depend on batch order.
func Aggregate(batches []Batch) (*Report, error) {
	var scores, targets [][]float64
	classes := -1
	for bi, b := range batches {
		if len(b.Predictions) != len(b.Targets) {
			return nil, fmt.Errorf("%w: batch %d has %d predictions and %d targets",
				ErrShapeMismatch, bi, len(b.Predictions), len(b.Targets))
		}
		for i := range b.Predictions {
			if classes < 0 {
				classes = len(b.Predictions[i])
			}
			if len(b.Predictions[i]) != classes || len(b.Targets[i]) != classes {
				return nil, fmt.Errorf("%w: batch %d row %d has %d predictions and %d targets, want %d",
					ErrShapeMismatch, bi, i, len(b.Predictions[i]), len(b.Targets[i]), classes)
			}
			if c := nonFinite(b.Predictions[i]); c >= 0 {
				return nil, fmt.Errorf("%w: batch %d row %d prediction %d is %v",
					ErrNonFinite, bi, i, c, b.Predictions[i][c])
			}
			if c := nonFinite(b.Targets[i]); c >= 0 {
				return nil, fmt.Errorf("%w: batch %d row %d target %d is %v",
					ErrNonFinite, bi, i, c, b.Targets[i][c])
			}
			scores = append(scores, b.Predictions[i])
			targets = append(targets, b.Targets[i])
		}
	}
	if len(scores) == 0 || classes == 0 {
		return nil, ErrNoSamples
	}

	r := &Report{
		Metrics:    make(map[string]float64, classes+3),
		APPerClass: make([]float64, classes),
		Curves:     make([]Curve, classes),
		Samples:    len(scores),
		Classes:    classes,
	}

	var defined, precisions, recalls []float64
	col := make([]float64, len(scores))
	tcol := make([]float64, len(scores))
	for c := 0; c < classes; c++ {
		for i := range scores {
			col[i], tcol[i] = scores[i][c], targets[i][c]
		}
		curve, ap, ok := precisionRecall(col, tcol)
		r.Curves[c] = curve
		r.APPerClass[c] = ap
		r.Metrics[fmt.Sprintf("AP_class_%d", c)] = ap
		if !ok {
			r.UndefinedClasses = append(r.UndefinedClasses, c)
			continue
		}
		defined = append(defined, ap)
		precisions = append(precisions, curve.Precision...)
		recalls = append(recalls, curve.Recall...)
	}

	r.Metrics["mAP"] = math.NaN()
	if len(defined) > 0 {
		r.Metrics["mAP"] = stat.Mean(defined, nil)
	}

	agree := 0
	for i := range scores {
		for c := 0; c < classes; c++ {
			if (scores[i][c] > Threshold) == (targets[i][c] == 1) {
				agree++
			}
		}
	}
	r.Metrics["accuracy"] = float64(agree) / float64(len(scores)*classes)

	f1 := 0.0
	if len(precisions) > 0 {
		p := stat.Mean(precisions, nil)
		rc := stat.Mean(recalls, nil)
		f1 = 2 * p * rc / (p + rc + f1Epsilon)
	}
	r.Metrics["f1_score"] = f1
	return r, nil
}

// nonFinite returns the index of the first NaN or infinite value, or -1.
func nonFinite(row []float64) int {
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

// precisionRecall returns the curve and AP for one class. ok is false when the
// class has no positive targets.
func precisionRecall(scores, targets []float64) (Curve, float64, bool) {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	// Cumulative true and false positives at each distinct threshold,
	// highest first.
	var tps, fps, thresholds []float64
	var tp, fp float64
	for k, i := range order {
		if targets[i] == 1 {
			tp++
		} else {
			fp++
		}
		if k+1 < len(order) && scores[order[k+1]] == scores[i] {
			continue
		}
		tps = append(tps, tp)
		fps = append(fps, fp)
		thresholds = append(thresholds, scores[i])
	}

	positives := tp
	n := len(tps)
	prec := make([]float64, n)
	rec := make([]float64, n)
	for k := range tps {
		if s := tps[k] + fps[k]; s > 0 {
			prec[k] = tps[k] / s
		}
		if positives > 0 {
			rec[k] = tps[k] / positives
		} else {
			rec[k] = 1
		}
	}

	curve := Curve{
		Precision:  make([]float64, 0, n+1),
		Recall:     make([]float64, 0, n+1),
		Thresholds: make([]float64, 0, n),
	}
	for k := n - 1; k >= 0; k-- {
		curve.Precision = append(curve.Precision, prec[k])
		curve.Recall = append(curve.Recall, rec[k])
		curve.Thresholds = append(curve.Thresholds, thresholds[k])
	}
	curve.Precision = append(curve.Precision, 1)
	curve.Recall = append(curve.Recall, 0)

	if positives == 0 {
		return curve, math.NaN(), false
	}

	terms := make([]float64, n)
	prevRecall := 0.0
	for k := range tps {
		terms[k] = (rec[k] - prevRecall) * prec[k]
		prevRecall = rec[k]
	}
	return curve, floats.Sum(terms), true
}
