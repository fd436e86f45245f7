package raster

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ironsheep/marida-corpus-mcp/internal/monitoring"
	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
)

// DefaultImageBands are the 1-based raster bands holding B02, B03, B04 and B08
// in a MARIDA patch image.
var DefaultImageBands = []int{1, 2, 3, 7}

// Patch is the aligned raster triple of one corpus patch.
type Patch struct {
	// Image holds the selected spectral bands, shape (len(bands), H, W).
	Image *Raster

	// ClassMask holds the per-pixel class codes, shape (1, H, W).
	ClassMask *Raster

	// Confidence holds the per-pixel annotation confidence, shape (1, H, W).
	Confidence *Raster
}

// Clone returns a deep copy of p.
func (p *Patch) Clone() *Patch {
	return &Patch{
		Image:      p.Image.Clone(),
		ClassMask:  p.ClassMask.Clone(),
		Confidence: p.Confidence.Clone(),
	}
}

// AlignmentError reports a raster whose spatial size differs from the image
// of the same patch.
type AlignmentError struct {
	Path     string
	Expected [2]int // height, width
	Actual   [2]int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s: %s is %dx%d, image is %dx%d",
		ErrAlignment, e.Path, e.Actual[0], e.Actual[1], e.Expected[0], e.Expected[1])
}

// Is lets errors.Is match AlignmentError against ErrAlignment.
func (e *AlignmentError) Is(target error) bool {
	return target == ErrAlignment
}

// Loader reads patch triples from disk.
//
// A Loader is immutable after construction and safe for concurrent use.
type Loader struct {
	bands []int
	cache *Cache
}

// NewLoader returns a loader that keeps the given 1-based image bands. A nil
// or empty bands slice selects DefaultImageBands. cache may be nil.
func NewLoader(bands []int, cache *Cache) *Loader {
	if len(bands) == 0 {
		bands = DefaultImageBands
	}
	return &Loader{
		bands: append([]int(nil), bands...),
		cache: cache,
	}
}

// Bands returns the 1-based image bands the loader selects.
func (l *Loader) Bands() []int {
	return append([]int(nil), l.bands...)
}

// Load reads the patch at addr.
//
// All three files are checked before any is decoded, so a missing file yields
// ErrMissing with no partial result. Decode failures and images with too few
// bands yield ErrRead. Rasters whose height or width disagree with the image
// yield an *AlignmentError.
func (l *Loader) Load(addr patch.Address) (*Patch, error) {
	if l.cache != nil {
		if p, ok := l.cache.Get(addr); ok {
			monitoring.Debugf("patch cache hit: %s", addr.ImagePath)
			return p, nil
		}
	}

	for _, path := range addr.Paths() {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrMissing, path)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrRead, path, err)
		}
	}

	full, err := ReadFile(addr.ImagePath)
	if err != nil {
		return nil, err
	}
	image, err := full.SelectBands(l.bands)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, addr.ImagePath, err)
	}

	mask, err := l.readAligned(addr.ClassMaskPath, image)
	if err != nil {
		return nil, err
	}
	conf, err := l.readAligned(addr.ConfidencePath, image)
	if err != nil {
		return nil, err
	}

	p := &Patch{Image: image, ClassMask: mask, Confidence: conf}
	if l.cache != nil {
		l.cache.Add(addr, p)
	}
	return p, nil
}

// readAligned reads band 1 of path and checks it against the image size.
func (l *Loader) readAligned(path string, image *Raster) (*Raster, error) {
	r, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !r.SameSize(image) {
		return nil, &AlignmentError{
			Path:     path,
			Expected: [2]int{image.Height, image.Width},
			Actual:   [2]int{r.Height, r.Width},
		}
	}
	if r.Bands == 1 {
		return r, nil
	}
	return r.SelectBands([]int{1})
}

// ReadFile opens and decodes the TIFF at path. The file is closed before
// ReadFile returns.
func ReadFile(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, path, err)
	}
	defer f.Close()

	r, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// WriteFile encodes r to path.
func WriteFile(path string, r *Raster, opts *EncodeOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create raster file: %w", err)
	}
	if err := Encode(f, r, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close raster file: %w", err)
	}
	return nil
}
