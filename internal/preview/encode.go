package preview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/disintegration/imaging"
)

// Image is an encoded preview.
type Image struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Region is a half-open pixel rectangle.
type Region struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// NamedRegion returns the rectangle of a named part of a w by h image:
// "full", "top-left", "top-right", "bottom-left", "bottom-right",
// "top-half", "bottom-half", "left-half", "right-half" or "center".
func NamedRegion(name string, w, h int) (Region, error) {
	midX, midY := w/2, h/2
	switch name {
	case "", "full":
		return Region{0, 0, w, h}, nil
	case "top-left":
		return Region{0, 0, midX, midY}, nil
	case "top-right":
		return Region{midX, 0, w, midY}, nil
	case "bottom-left":
		return Region{0, midY, midX, h}, nil
	case "bottom-right":
		return Region{midX, midY, w, h}, nil
	case "top-half":
		return Region{0, 0, w, midY}, nil
	case "bottom-half":
		return Region{0, midY, w, h}, nil
	case "left-half":
		return Region{0, 0, midX, h}, nil
	case "right-half":
		return Region{midX, 0, w, h}, nil
	case "center":
		return Region{w / 4, h / 4, w - w/4, h - h/4}, nil
	}
	return Region{}, fmt.Errorf("unknown region: %s", name)
}

// Crop cuts rg out of img and scales it by scale. Scaling uses nearest
// neighbour so class boundaries and individual pixels stay crisp.
func Crop(img image.Image, rg Region, scale float64) (image.Image, error) {
	b := img.Bounds()
	if rg.X1 < b.Min.X || rg.Y1 < b.Min.Y || rg.X2 > b.Max.X || rg.Y2 > b.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			rg.X1, rg.Y1, rg.X2, rg.Y2, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
	}
	if rg.X1 >= rg.X2 || rg.Y1 >= rg.Y2 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	out := image.Image(imaging.Crop(img, image.Rect(rg.X1, rg.Y1, rg.X2, rg.Y2)))
	if scale > 0 && scale != 1 {
		w := max(1, int(float64(rg.X2-rg.X1)*scale))
		h := max(1, int(float64(rg.Y2-rg.Y1)*scale))
		out = imaging.Resize(out, w, h, imaging.NearestNeighbor)
	}
	return out, nil
}

// Encode returns img as a base64 PNG.
func Encode(img image.Image) (*Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return &Image{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// Save writes img to path as PNG.
func Save(path string, img image.Image) error {
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	return nil
}
