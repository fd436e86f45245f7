package preview

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// Composite band positions within a B02, B03, B04, B08 image.
const (
	blueBand  = 0
	greenBand = 1
	redBand   = 2
)

// ClassPalette holds one color per MARIDA class, in class order.
var ClassPalette = []colorful.Color{
	colorful.MustParseHex("#ff0000"), // marine_debris
	colorful.MustParseHex("#ff69b4"), // dense_plastic
	colorful.MustParseHex("#ffb6c1"), // sparse_plastic
	colorful.MustParseHex("#008000"), // dense_sargassum
	colorful.MustParseHex("#32cd32"), // sparse_sargassum
	colorful.MustParseHex("#a52a2a"), // natural_organic
	colorful.MustParseHex("#ffa500"), // ship
	colorful.MustParseHex("#c0c0c0"), // cloud
	colorful.MustParseHex("#696969"), // cloud_shadow
	colorful.MustParseHex("#000080"), // water
	colorful.MustParseHex("#b0c4de"), // water_turbid
	colorful.MustParseHex("#ffff00"), // water_sediment
	colorful.MustParseHex("#8b4513"), // land
	colorful.MustParseHex("#00ffff"), // floating_algae
	colorful.MustParseHex("#f5deb3"), // other
}

// viridis anchors, low to high.
var viridis = []colorful.Color{
	colorful.MustParseHex("#440154"),
	colorful.MustParseHex("#3b528b"),
	colorful.MustParseHex("#21918c"),
	colorful.MustParseHex("#5ec962"),
	colorful.MustParseHex("#fde725"),
}

// CompositeOptions controls RGBComposite.
type CompositeOptions struct {
	// Gamma brightens (>1) or darkens (<1) the stretched composite. 0 or 1
	// leaves it unchanged.
	Gamma float64
}

// RGBComposite builds a true-color image from the red, green and blue bands
// of a B02, B03, B04, B08 raster. Values are stretched linearly between the
// minimum and maximum over all three bands; nodata pixels are left black.
func RGBComposite(r *raster.Raster, opts *CompositeOptions) (image.Image, error) {
	if r.Bands < 3 {
		return nil, fmt.Errorf("composite needs at least 3 bands, got %d", r.Bands)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, b := range []int{redBand, greenBand, blueBand} {
		for _, v := range r.Band(b) {
			f := float64(v)
			if isNoData(r, f) {
				continue
			}
			lo = math.Min(lo, f)
			hi = math.Max(hi, f)
		}
	}
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			var c [3]uint8
			for i, b := range []int{redBand, greenBand, blueBand} {
				f := float64(r.At(b, y, x))
				if isNoData(r, f) {
					continue
				}
				c[i] = uint8(math.Round((f - lo) * scale))
			}
			img.SetNRGBA(x, y, color.NRGBA{R: c[0], G: c[1], B: c[2], A: 255})
		}
	}

	if opts != nil && opts.Gamma > 0 && opts.Gamma != 1 {
		return adjust.Gamma(img, opts.Gamma), nil
	}
	return img, nil
}

func isNoData(r *raster.Raster, v float64) bool {
	return math.IsNaN(v) || (r.NoData != nil && v == *r.NoData)
}

// Heatmap maps band 0 of r onto the viridis scale between lo and hi. When lo
// equals hi the observed range is used.
func Heatmap(r *raster.Raster, lo, hi float64) image.Image {
	if lo == hi {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, v := range r.Band(0) {
			lo = math.Min(lo, float64(v))
			hi = math.Max(hi, float64(v))
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			t := 0.0
			if hi > lo {
				t = (float64(r.At(0, y, x)) - lo) / (hi - lo)
			}
			img.Set(x, y, viridisAt(t))
		}
	}
	return img
}

// viridisAt interpolates the viridis anchors in Lab space; t is clamped to [0, 1].
func viridisAt(t float64) color.Color {
	t = math.Max(0, math.Min(1, t))
	pos := t * float64(len(viridis)-1)
	i := int(pos)
	if i >= len(viridis)-1 {
		return viridis[len(viridis)-1].Clamped()
	}
	return viridis[i].BlendLab(viridis[i+1], pos-float64(i)).Clamped()
}

// ClassMask paints each pixel of a class mask with its class color.
// Unlabeled pixels (code 0) and unknown codes are transparent.
func ClassMask(mask *raster.Raster) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			code := int(mask.At(0, y, x))
			if code < 1 || code > len(ClassPalette) {
				continue
			}
			r, g, b := ClassPalette[code-1].Clamped().RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// Overlay blends the class colors over base at opacity in [0, 1]. Unlabeled
// pixels keep the base color.
func Overlay(base image.Image, mask *raster.Raster, opacity float64) (image.Image, error) {
	b := base.Bounds()
	if b.Dx() != mask.Width || b.Dy() != mask.Height {
		return nil, fmt.Errorf("overlay size %dx%d does not match base %dx%d",
			mask.Width, mask.Height, b.Dx(), b.Dy())
	}
	opacity = math.Max(0, math.Min(1, opacity))

	img := image.NewNRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			c, _ := colorful.MakeColor(base.At(b.Min.X+x, b.Min.Y+y))
			if code := int(mask.At(0, y, x)); code >= 1 && code <= len(ClassPalette) {
				c = c.BlendRgb(ClassPalette[code-1], opacity)
			}
			r, g, bl := c.Clamped().RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: bl, A: 255})
		}
	}
	return img, nil
}
