package preview

import (
	"fmt"
	"image"
	"image/color"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// Panel names accepted by Render.
const (
	PanelRGB        = "rgb"
	PanelConfidence = "confidence"
	PanelClasses    = "classes"
	PanelOverlay    = "overlay"
	PanelStrip      = "strip"
)

// Options controls Render.
type Options struct {
	Panel   string  // one of the Panel constants; defaults to PanelStrip
	Region  string  // NamedRegion name; defaults to the full patch
	Scale   float64 // defaults to 1
	Opacity float64 // class overlay opacity; defaults to 0.5
	Gamma   float64 // composite gamma; 0 leaves it unchanged
}

// Render draws one panel of a patch. PanelStrip joins the composite,
// confidence heat map and class overlay side by side with a class legend
// underneath.
func Render(img, confidence, classMask *raster.Raster, opts Options) (image.Image, error) {
	if opts.Panel == "" {
		opts.Panel = PanelStrip
	}
	if opts.Opacity == 0 {
		opts.Opacity = 0.5
	}

	rgb, err := RGBComposite(img, &CompositeOptions{Gamma: opts.Gamma})
	if err != nil {
		return nil, err
	}

	var out image.Image
	switch opts.Panel {
	case PanelRGB:
		out = rgb
	case PanelConfidence:
		out = Heatmap(confidence, 0, 0)
	case PanelClasses:
		out = ClassMask(classMask)
	case PanelOverlay:
		if out, err = Overlay(rgb, classMask, opts.Opacity); err != nil {
			return nil, err
		}
	case PanelStrip:
		overlay, err := Overlay(rgb, classMask, opts.Opacity)
		if err != nil {
			return nil, err
		}
		panels := []image.Image{rgb, Heatmap(confidence, 0, 0), overlay}
		for i, p := range panels {
			if panels[i], err = cropScale(p, opts); err != nil {
				return nil, err
			}
		}
		return strip(panels, ClassHistogram(classMask, 0)), nil
	default:
		return nil, fmt.Errorf("unknown panel: %s", opts.Panel)
	}
	return cropScale(out, opts)
}

func cropScale(img image.Image, opts Options) (image.Image, error) {
	b := img.Bounds()
	rg, err := NamedRegion(opts.Region, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	return Crop(img, rg, opts.Scale)
}

const (
	panelGap     = 4
	legendHeight = 12
	swatchWidth  = 18
)

// strip lays panels out left to right and draws a swatch with the class code
// for every class present in the mask.
func strip(panels []image.Image, classes []ClassFrequency) image.Image {
	w, h := 0, 0
	for _, p := range panels {
		w += p.Bounds().Dx() + panelGap
		h = max(h, p.Bounds().Dy())
	}
	w -= panelGap

	out := imaging.New(w, h+panelGap+legendHeight, color.NRGBA{A: 255})
	x := 0
	for _, p := range panels {
		out = imaging.Paste(out, p, image.Pt(x, 0))
		x += p.Bounds().Dx() + panelGap
	}

	x = 0
	y := h + panelGap
	for _, c := range classes {
		if c.Code < 1 || c.Code > len(ClassPalette) || x+swatchWidth > w {
			continue
		}
		r, g, b := ClassPalette[c.Code-1].Clamped().RGB255()
		fill := color.RGBA{R: r, G: g, B: b, A: 255}
		for dy := 0; dy < legendHeight; dy++ {
			for dx := 0; dx < swatchWidth-2; dx++ {
				out.Set(x+dx, y+dy, fill)
			}
		}
		drawLabel(out, x+2, y+3, strconv.Itoa(c.Code), color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 255})
		x += swatchWidth
	}
	return out
}

// drawLabel draws digits in a 3x5 pixel font at (x, y) on a filled box.
func drawLabel(img *image.NRGBA, x, y int, text string, fg, bg color.RGBA) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
	}

	bounds := img.Bounds()
	inside := func(px, py int) bool {
		return px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y
	}

	const charWidth = 4
	for dy := -1; dy < 6; dy++ {
		for dx := -1; dx < len(text)*charWidth; dx++ {
			if inside(x+dx, y+dy) {
				img.Set(x+dx, y+dy, bg)
			}
		}
	}
	cx := x
	for _, ch := range text {
		for row, line := range glyphs[ch] {
			for col, pixel := range line {
				if pixel == '1' && inside(cx+col, y+row) {
					img.Set(cx+col, y+row, fg)
				}
			}
		}
		cx += charWidth
	}
}
