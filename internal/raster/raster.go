package raster

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing is returned when a raster file does not exist.
	ErrMissing = errors.New("raster missing")

	// ErrRead is returned when a raster file exists but cannot be decoded.
	ErrRead = errors.New("raster read error")

	// ErrAlignment is returned when the rasters of one patch disagree on their
	// spatial dimensions.
	ErrAlignment = errors.New("raster alignment error")
)

// GeoTransform is the north-up affine georeference of a raster.
type GeoTransform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Raster is a band-major float32 array of shape (Bands, Height, Width).
type Raster struct {
	Bands  int
	Height int
	Width  int
	Data   []float32

	// Geo is the georeference, when the source carried one.
	Geo *GeoTransform

	// NoData is the nodata sentinel, when the source carried one.
	NoData *float64
}

// New allocates a zeroed raster.
func New(bands, height, width int) *Raster {
	return &Raster{
		Bands:  bands,
		Height: height,
		Width:  width,
		Data:   make([]float32, bands*height*width),
	}
}

// Shape returns (Bands, Height, Width).
func (r *Raster) Shape() [3]int {
	return [3]int{r.Bands, r.Height, r.Width}
}

// ShapeString formats the shape as "BxHxW".
func (r *Raster) ShapeString() string {
	return fmt.Sprintf("%dx%dx%d", r.Bands, r.Height, r.Width)
}

// SameSize reports whether r and o share Height and Width.
func (r *Raster) SameSize(o *Raster) bool {
	return r.Height == o.Height && r.Width == o.Width
}

// index returns the Data offset of (b, y, x), all 0-based.
func (r *Raster) index(b, y, x int) int {
	return (b*r.Height+y)*r.Width + x
}

// At returns the value at 0-based band b, row y, column x.
func (r *Raster) At(b, y, x int) float32 {
	return r.Data[r.index(b, y, x)]
}

// Set stores v at 0-based band b, row y, column x.
func (r *Raster) Set(b, y, x int, v float32) {
	r.Data[r.index(b, y, x)] = v
}

// Band returns the slice backing 0-based band b. Writes go through to r.
func (r *Raster) Band(b int) []float32 {
	n := r.Height * r.Width
	return r.Data[b*n : (b+1)*n : (b+1)*n]
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := &Raster{
		Bands:  r.Bands,
		Height: r.Height,
		Width:  r.Width,
		Data:   make([]float32, len(r.Data)),
	}
	copy(out.Data, r.Data)
	if r.Geo != nil {
		g := *r.Geo
		out.Geo = &g
	}
	if r.NoData != nil {
		nd := *r.NoData
		out.NoData = &nd
	}
	return out
}

// SelectBands returns a new raster holding the given 1-based bands in the
// given order.
func (r *Raster) SelectBands(bands []int) (*Raster, error) {
	out := New(len(bands), r.Height, r.Width)
	for i, b := range bands {
		if b < 1 || b > r.Bands {
			return nil, fmt.Errorf("band %d out of range: raster has %d bands", b, r.Bands)
		}
		copy(out.Band(i), r.Band(b-1))
	}
	if r.Geo != nil {
		g := *r.Geo
		out.Geo = &g
	}
	if r.NoData != nil {
		nd := *r.NoData
		out.NoData = &nd
	}
	return out, nil
}
