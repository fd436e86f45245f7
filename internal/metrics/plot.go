package metrics

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotPRCurves renders the precision-recall curve of every defined class to
// path. The file format follows the extension (png, svg, pdf).
func PlotPRCurves(r *Report, names []string, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Precision-Recall (mAP %.3f)", r.Metrics["mAP"])
	p.X.Label.Text = "Recall"
	p.Y.Label.Text = "Precision"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1.05

	undefined := make(map[int]bool, len(r.UndefinedClasses))
	for _, c := range r.UndefinedClasses {
		undefined[c] = true
	}

	colors := palette(len(r.Curves))
	for c, curve := range r.Curves {
		if undefined[c] {
			continue
		}
		pts := make(plotter.XYs, len(curve.Recall))
		for i := range curve.Recall {
			pts[i] = plotter.XY{X: curve.Recall[i], Y: curve.Precision[i]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build curve for class %d: %w", c, err)
		}
		line.Color = colors[c]
		line.Width = vg.Points(1)

		label := fmt.Sprintf("class %d", c)
		if c < len(names) {
			label = names[c]
		}
		p.Legend.Add(fmt.Sprintf("%s (AP %.3f)", label, r.APPerClass[c]), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save PR plot: %w", err)
	}
	return nil
}

// palette spreads n hues evenly around the color wheel.
func palette(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		out[i] = colorful.Hsl(360*float64(i)/float64(max(n, 1)), 0.7, 0.45).Clamped()
	}
	return out
}
