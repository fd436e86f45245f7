package dataset

import (
	"errors"
	"fmt"

	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/labels"
	"github.com/ironsheep/marida-corpus-mcp/internal/monitoring"
	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// ErrIndexOutOfRange is returned by Get for an index outside [0, Size()).
var ErrIndexOutOfRange = errors.New("index out of range")

// Transformer turns a loaded image and confidence mask into their training
// form. *augment.Augmentor implements it.
type Transformer interface {
	Apply(image, confidence *raster.Raster) (*raster.Raster, *raster.Raster, error)
}

// Sample is one training example. It is created per access and owned by the
// caller.
type Sample struct {
	Identifier patch.Identifier
	Image      *raster.Raster // [bands, H, W]
	Labels     labels.Vector  // [classes]
	Confidence *raster.Raster // [1, H, W]
	ClassMask  *raster.Raster // [1, H, W]
}

// Dataset is the indexed view of one split.
type Dataset struct {
	split     string
	ids       []patch.Identifier
	labels    *labels.Table
	resolver  *patch.Resolver
	loader    *raster.Loader
	transform Transformer
}

// Option configures Open.
type Option func(*options)

type options struct {
	transform Transformer
	cache     *raster.Cache
	labels    *labels.Table
}

// WithTransform applies t to every sample's image and confidence mask.
func WithTransform(t Transformer) Option {
	return func(o *options) { o.transform = t }
}

// WithCache serves repeated loads from c instead of disk.
func WithCache(c *raster.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithLabels uses an already loaded label table.
func WithLabels(t *labels.Table) Option {
	return func(o *options) { o.labels = t }
}

// Open validates cfg and reads the split list and label table. Any missing
// directory, split file or label source fails here, before a sample is served.
// An empty split file yields an empty Dataset.
func Open(cfg *config.Config, split string, opts ...Option) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o, err := resolveOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	ids, err := ReadSplit(cfg.SplitFile(split))
	if err != nil {
		return nil, err
	}
	return build(cfg, split, ids, o)
}

func resolveOptions(cfg *config.Config, opts []Option) (*options, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.labels == nil {
		t, err := labels.Load(cfg.LabelsFile, cfg.NumClasses)
		if err != nil {
			return nil, err
		}
		o.labels = t
	}
	if o.cache == nil && cfg.CacheSize > 0 {
		c, err := raster.NewCache(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		o.cache = c
	}
	return o, nil
}

func build(cfg *config.Config, split string, ids []patch.Identifier, o *options) (*Dataset, error) {
	bands, err := cfg.BandIndices()
	if err != nil {
		return nil, err
	}
	d := &Dataset{
		split:     split,
		ids:       ids,
		labels:    o.labels,
		resolver:  patch.NewResolver(cfg.PatchesDir),
		loader:    raster.NewLoader(bands, o.cache),
		transform: o.transform,
	}
	monitoring.Logf("opened %s split: %d patches, %d labels", split, len(ids), o.labels.Len())
	return d, nil
}

// Split returns the split name.
func (d *Dataset) Split() string {
	return d.split
}

// Size returns the number of identifiers in the split.
func (d *Dataset) Size() int {
	return len(d.ids)
}

// Identifiers returns a copy of the split's identifier list.
func (d *Dataset) Identifiers() []patch.Identifier {
	return append([]patch.Identifier(nil), d.ids...)
}

// Labels returns the shared label table.
func (d *Dataset) Labels() *labels.Table {
	return d.labels
}

// Identifier returns the identifier at index.
func (d *Dataset) Identifier(index int) (patch.Identifier, error) {
	if index < 0 || index >= len(d.ids) {
		return patch.Identifier{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(d.ids))
	}
	return d.ids[index], nil
}

// Address returns the raster paths of the identifier at index.
func (d *Dataset) Address(index int) (patch.Address, error) {
	id, err := d.Identifier(index)
	if err != nil {
		return patch.Address{}, err
	}
	return d.resolver.Resolve(id), nil
}

// Transformed returns a view of the same split that applies t. The receiver
// is unchanged.
func (d *Dataset) Transformed(t Transformer) *Dataset {
	c := *d
	c.transform = t
	return &c
}

// Get loads the sample at index and applies the transform, if any.
func (d *Dataset) Get(index int) (*Sample, error) {
	s, err := d.raw(index)
	if err != nil {
		return nil, err
	}
	if d.transform != nil {
		img, conf, err := d.transform.Apply(s.Image, s.Confidence)
		if err != nil {
			return nil, fmt.Errorf("patch %s: failed to transform: %w", s.Identifier, err)
		}
		s.Image, s.Confidence = img, conf
	}
	return s, nil
}

// raw loads the untransformed sample at index.
func (d *Dataset) raw(index int) (*Sample, error) {
	id, err := d.Identifier(index)
	if err != nil {
		return nil, err
	}
	vec, err := d.labels.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", id, err)
	}
	p, err := d.loader.Load(d.resolver.Resolve(id))
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", id, err)
	}
	return &Sample{
		Identifier: id,
		Image:      p.Image,
		Labels:     vec,
		Confidence: p.Confidence,
		ClassMask:  p.ClassMask,
	}, nil
}
