package augment

import "github.com/ironsheep/marida-corpus-mcp/internal/raster"

// Geometric returns a copy of r with t applied to every band.
func Geometric(r *raster.Raster, t Transform) *raster.Raster {
	out := r.Clone()
	for k := 0; k < ((t.Rotations%4)+4)%4; k++ {
		out = rotate90(out)
	}
	if t.FlipHorizontal {
		flipHorizontal(out)
	}
	if t.FlipVertical {
		flipVertical(out)
	}
	return out
}

// SourceCoords maps an output pixel (y, x) of Geometric(r, t) back to its
// position in r, where r is h by w.
func SourceCoords(t Transform, h, w, y, x int) (int, int) {
	k := ((t.Rotations % 4) + 4) % 4
	oh, ow := h, w
	if k%2 == 1 {
		oh, ow = w, h
	}
	if t.FlipVertical {
		y = oh - 1 - y
	}
	if t.FlipHorizontal {
		x = ow - 1 - x
	}
	// Undo the rotations one quarter turn at a time.
	ch, cw := oh, ow
	for i := 0; i < k; i++ {
		// Output (y, x) of a counter-clockwise turn came from (x, cw'-1-y)
		// where cw' is the pre-turn width, which equals the post-turn height.
		y, x = x, ch-1-y
		ch, cw = cw, ch
	}
	return y, x
}

// rotate90 turns r a quarter turn counter-clockwise.
func rotate90(r *raster.Raster) *raster.Raster {
	out := raster.New(r.Bands, r.Width, r.Height)
	out.Geo, out.NoData = r.Geo, r.NoData
	for b := 0; b < r.Bands; b++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Set(b, y, x, r.At(b, x, r.Width-1-y))
			}
		}
	}
	return out
}

func flipHorizontal(r *raster.Raster) {
	for b := 0; b < r.Bands; b++ {
		for y := 0; y < r.Height; y++ {
			for x, mirror := 0, r.Width-1; x < mirror; x, mirror = x+1, mirror-1 {
				v := r.At(b, y, x)
				r.Set(b, y, x, r.At(b, y, mirror))
				r.Set(b, y, mirror, v)
			}
		}
	}
}

func flipVertical(r *raster.Raster) {
	for b := 0; b < r.Bands; b++ {
		band := r.Band(b)
		for y, mirror := 0, r.Height-1; y < mirror; y, mirror = y+1, mirror-1 {
			top := band[y*r.Width : (y+1)*r.Width]
			bottom := band[mirror*r.Width : (mirror+1)*r.Width]
			for x := range top {
				top[x], bottom[x] = bottom[x], top[x]
			}
		}
	}
}
