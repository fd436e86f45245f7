// Package augment applies synchronized geometric transforms and per-band
// normalization to patch images and their confidence masks.
//
// A drawn geometric transform is always applied identically to the image and
// to the confidence mask, so a pixel at (x, y) in one maps to the same
// position in the other. Label vectors never pass through this package.
package augment

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

var (
	// ErrBandMismatch is returned when an image's band count differs from the
	// normalization constants.
	ErrBandMismatch = errors.New("band count mismatch")

	// ErrShapeMismatch is returned when the image and confidence mask differ
	// in height or width.
	ErrShapeMismatch = errors.New("image and confidence shape mismatch")
)

// Normalization holds per-band affine normalization constants:
// normalized = (raw/MaxPixelValue - Mean[b]) / Std[b].
type Normalization struct {
	Mean          []float64
	Std           []float64
	MaxPixelValue float64
}

// Sentinel2 is the normalization for bands B02, B03, B04 and B08.
var Sentinel2 = Normalization{
	Mean:          []float64{1365.4, 1164.7, 939.3, 816.8},
	Std:           []float64{1087.4, 705.3, 574.5, 544.7},
	MaxPixelValue: 10000,
}

// Transform is one geometric draw, applied in field order: Rotations
// counter-clockwise quarter turns, then the horizontal flip, then the
// vertical flip.
type Transform struct {
	Rotations      int  `json:"rotations"`
	FlipHorizontal bool `json:"flip_horizontal"`
	FlipVertical   bool `json:"flip_vertical"`
}

// Identity reports whether t leaves pixel positions unchanged.
func (t Transform) Identity() bool {
	return t.Rotations%4 == 0 && !t.FlipHorizontal && !t.FlipVertical
}

// Augmentor applies the training or evaluation pipeline. It is safe for
// concurrent use.
type Augmentor struct {
	training    bool
	rotateProb  float64
	hflipProb   float64
	vflipProb   float64
	photometric bool
	norm        Normalization

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Augmentor.
type Option func(*Augmentor)

// WithProbabilities sets the rotate, horizontal flip and vertical flip
// probabilities.
func WithProbabilities(rotate, hflip, vflip float64) Option {
	return func(a *Augmentor) {
		a.rotateProb, a.hflipProb, a.vflipProb = rotate, hflip, vflip
	}
}

// WithSeed makes the draw sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(a *Augmentor) {
		a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithPhotometric enables brightness/contrast and noise jitter on the image
// in training mode.
func WithPhotometric(on bool) Option {
	return func(a *Augmentor) { a.photometric = on }
}

// WithNormalization replaces the Sentinel-2 constants.
func WithNormalization(n Normalization) Option {
	return func(a *Augmentor) { a.norm = n }
}

// FromConfig translates the augment section of a configuration to options.
func FromConfig(c config.AugmentConfig) []Option {
	opts := []Option{WithPhotometric(c.Photometric)}
	if c.RotateProb != 0 || c.HFlipProb != 0 || c.VFlipProb != 0 {
		opts = append(opts, WithProbabilities(c.RotateProb, c.HFlipProb, c.VFlipProb))
	}
	if c.Seed != 0 {
		opts = append(opts, WithSeed(c.Seed))
	}
	return opts
}

// New returns an Augmentor. In evaluation mode (training false) it only
// normalizes.
func New(training bool, opts ...Option) *Augmentor {
	a := &Augmentor{
		training:   training,
		rotateProb: 0.5,
		hflipProb:  0.5,
		vflipProb:  0.5,
		norm:       Sentinel2,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return a
}

// Training reports whether the augmentor applies geometric transforms.
func (a *Augmentor) Training() bool {
	return a.training
}

// Draw samples a geometric transform. In evaluation mode it returns the
// identity.
func (a *Augmentor) Draw() Transform {
	var t Transform
	if !a.training {
		return t
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rng.Float64() < a.rotateProb {
		t.Rotations = a.rng.IntN(4)
	}
	t.FlipHorizontal = a.rng.Float64() < a.hflipProb
	t.FlipVertical = a.rng.Float64() < a.vflipProb
	return t
}

// Apply draws a transform and applies it. Inputs are not modified.
func (a *Augmentor) Apply(image, confidence *raster.Raster) (*raster.Raster, *raster.Raster, error) {
	return a.ApplyTransform(a.Draw(), image, confidence)
}

// ApplyTransform applies t to both rasters, then photometric jitter (training
// mode only, when enabled) and normalization to the image. confidence may be
// nil. Inputs are not modified.
func (a *Augmentor) ApplyTransform(t Transform, image, confidence *raster.Raster) (*raster.Raster, *raster.Raster, error) {
	if image == nil {
		return nil, nil, fmt.Errorf("failed to augment: nil image")
	}
	if image.Bands != len(a.norm.Mean) || image.Bands != len(a.norm.Std) {
		return nil, nil, fmt.Errorf("%w: image has %d bands, normalization has %d", ErrBandMismatch, image.Bands, len(a.norm.Mean))
	}
	if confidence != nil && !image.SameSize(confidence) {
		return nil, nil, fmt.Errorf("%w: image %dx%d, confidence %dx%d",
			ErrShapeMismatch, image.Height, image.Width, confidence.Height, confidence.Width)
	}

	img := Geometric(image, t)
	var conf *raster.Raster
	if confidence != nil {
		conf = Geometric(confidence, t)
	}

	if a.training && a.photometric {
		a.mu.Lock()
		j := drawJitter(a.rng)
		a.mu.Unlock()
		j.apply(img, a.norm.MaxPixelValue)
	}
	a.norm.apply(img)
	return img, conf, nil
}

// Normalize applies n to a copy of r.
func (n Normalization) Normalize(r *raster.Raster) (*raster.Raster, error) {
	if r.Bands != len(n.Mean) || r.Bands != len(n.Std) {
		return nil, fmt.Errorf("%w: raster has %d bands, normalization has %d", ErrBandMismatch, r.Bands, len(n.Mean))
	}
	out := r.Clone()
	n.apply(out)
	return out, nil
}

func (n Normalization) apply(r *raster.Raster) {
	for b := 0; b < r.Bands; b++ {
		mean, std := n.Mean[b], n.Std[b]
		band := r.Band(b)
		for i, v := range band {
			band[i] = float32((float64(v)/n.MaxPixelValue - mean) / std)
		}
	}
}
