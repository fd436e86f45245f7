package preview

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// createPatch returns a 4-band image with a horizontal ramp, a confidence
// mask with a vertical ramp and a class mask split into two classes.
func createPatch(t *testing.T, h, w int) (*raster.Raster, *raster.Raster, *raster.Raster) {
	t.Helper()
	img := raster.New(4, h, w)
	conf := raster.New(1, h, w)
	mask := raster.New(1, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for b := 0; b < 4; b++ {
				img.Set(b, y, x, float32(500+100*x))
			}
			conf.Set(0, y, x, float32(y))
			if x < w/2 {
				mask.Set(0, y, x, 1)
			} else {
				mask.Set(0, y, x, 7)
			}
		}
	}
	return img, conf, mask
}

func TestRGBComposite(t *testing.T) {
	img, _, _ := createPatch(t, 4, 4)

	out, err := RGBComposite(img, nil)
	if err != nil {
		t.Fatalf("RGBComposite failed: %v", err)
	}
	r, _, _, _ := out.At(0, 0).RGBA()
	if r != 0 {
		t.Errorf("darkest pixel: got red %d, want 0", r>>8)
	}
	r, g, b, _ := out.At(3, 0).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Errorf("brightest pixel: got (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}

	if _, err := RGBComposite(raster.New(2, 2, 2), nil); err == nil {
		t.Error("expected error for 2-band raster")
	}
}

func TestRGBComposite_NoData(t *testing.T) {
	img, _, _ := createPatch(t, 2, 2)
	nodata := float64(500)
	img.NoData = &nodata

	out, err := RGBComposite(img, &CompositeOptions{Gamma: 1})
	if err != nil {
		t.Fatalf("RGBComposite failed: %v", err)
	}
	if r, g, b, _ := out.At(0, 0).RGBA(); r+g+b != 0 {
		t.Errorf("nodata pixel should be black, got (%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}

func TestHeatmap(t *testing.T) {
	_, conf, _ := createPatch(t, 5, 2)
	out := Heatmap(conf, 0, 0)

	low := out.At(0, 0)
	high := out.At(0, 4)
	if low == high {
		t.Error("expected different colors at the ends of the ramp")
	}
	lr, lg, lb, _ := low.RGBA()
	if lr>>8 != 0x44 || lg>>8 != 0x01 || lb>>8 != 0x54 {
		t.Errorf("low end: got (%x,%x,%x), want viridis start", lr>>8, lg>>8, lb>>8)
	}
}

func TestOverlay(t *testing.T) {
	img, _, mask := createPatch(t, 4, 4)
	rgb, err := RGBComposite(img, nil)
	if err != nil {
		t.Fatal(err)
	}
	mask.Set(0, 0, 0, 0)

	out, err := Overlay(rgb, mask, 1)
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	// Unlabeled pixels keep the base color.
	if got, want := colorOf(out.At(0, 0)), colorOf(rgb.At(0, 0)); got != want {
		t.Errorf("unlabeled pixel: got %v, want %v", got, want)
	}
	// Full opacity shows the class color.
	r, g, b := ClassPalette[0].RGB255()
	if got := colorOf(out.At(1, 0)); got != [3]uint8{r, g, b} {
		t.Errorf("class pixel: got %v, want %v", got, [3]uint8{r, g, b})
	}

	if _, err := Overlay(rgb, raster.New(1, 3, 3), 0.5); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestClassHistogram(t *testing.T) {
	_, _, mask := createPatch(t, 4, 4)
	mask.Set(0, 0, 0, 0)

	got := ClassHistogram(mask, 0)
	if len(got) != 3 {
		t.Fatalf("got %d classes, want 3", len(got))
	}
	if got[0].Code != 7 || got[0].Pixels != 8 || got[0].Name != "ship" {
		t.Errorf("top class: got %+v, want ship with 8 pixels", got[0])
	}
	if got[1].Code != 1 || got[1].Pixels != 7 {
		t.Errorf("second class: got %+v, want code 1 with 7 pixels", got[1])
	}
	if got[2].Name != "unlabeled" {
		t.Errorf("third class: got %q, want unlabeled", got[2].Name)
	}

	if top := ClassHistogram(mask, 1); len(top) != 1 {
		t.Errorf("count limit: got %d entries, want 1", len(top))
	}
}

func TestNamedRegion(t *testing.T) {
	tests := []struct {
		name string
		want Region
	}{
		{"", Region{0, 0, 8, 6}},
		{"top-left", Region{0, 0, 4, 3}},
		{"bottom-right", Region{4, 3, 8, 6}},
		{"center", Region{2, 1, 6, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NamedRegion(tt.name, 8, 6)
			if err != nil {
				t.Fatalf("NamedRegion failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
	if _, err := NamedRegion("middle-ish", 8, 6); err == nil {
		t.Error("expected error for unknown region")
	}
}

func TestCrop(t *testing.T) {
	img, _, _ := createPatch(t, 4, 4)
	rgb, _ := RGBComposite(img, nil)

	out, err := Crop(rgb, Region{0, 0, 2, 2}, 4)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.Bounds().Dx() != 8 || out.Bounds().Dy() != 8 {
		t.Errorf("dimensions: got %dx%d, want 8x8", out.Bounds().Dx(), out.Bounds().Dy())
	}

	if _, err := Crop(rgb, Region{0, 0, 5, 2}, 1); err == nil {
		t.Error("expected out-of-bounds error")
	}
	if _, err := Crop(rgb, Region{2, 2, 2, 3}, 1); err == nil {
		t.Error("expected empty region error")
	}
}

func TestRender(t *testing.T) {
	img, conf, mask := createPatch(t, 8, 8)

	panels := []struct {
		panel         string
		width, height int
	}{
		{PanelRGB, 16, 16},
		{PanelConfidence, 16, 16},
		{PanelClasses, 16, 16},
		{PanelOverlay, 16, 16},
		{PanelStrip, 3*16 + 2*panelGap, 16 + panelGap + legendHeight},
	}
	for _, tt := range panels {
		t.Run(tt.panel, func(t *testing.T) {
			out, err := Render(img, conf, mask, Options{Panel: tt.panel, Scale: 2})
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if out.Bounds().Dx() != tt.width || out.Bounds().Dy() != tt.height {
				t.Errorf("dimensions: got %dx%d, want %dx%d", out.Bounds().Dx(), out.Bounds().Dy(), tt.width, tt.height)
			}
		})
	}

	if _, err := Render(img, conf, mask, Options{Panel: "histogram"}); err == nil {
		t.Error("expected error for unknown panel")
	}
}

func TestEncodeAndSave(t *testing.T) {
	img, conf, mask := createPatch(t, 4, 4)
	out, err := Render(img, conf, mask, Options{Panel: PanelRGB, Region: "top-half"})
	if err != nil {
		t.Fatal(err)
	}

	enc, err := Encode(out)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if enc.MimeType != "image/png" || enc.Width != 4 || enc.Height != 2 {
		t.Errorf("got %+v", enc)
	}
	data, err := base64.StdEncoding.DecodeString(enc.ImageBase64)
	if err != nil {
		t.Fatalf("failed to decode base64: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("not a PNG: %v", err)
	}

	path := filepath.Join(t.TempDir(), "preview.png")
	if err := Save(path, out); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
}

func colorOf(c interface{ RGBA() (r, g, b, a uint32) }) [3]uint8 {
	r, g, b, _ := c.RGBA()
	return [3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
}
