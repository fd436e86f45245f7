// Package config holds the typed configuration shared by every corpus component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrPathMissing is returned when a configured directory or file does not exist.
var ErrPathMissing = errors.New("configured path missing")

// Default values for the MARIDA corpus.
const (
	DefaultImageSize  = 256
	DefaultNumClasses = 15
	DefaultCacheSize  = 0
	LabelsFileName    = "labels_mapping.txt"
)

// DefaultBands is the Sentinel-2 band subset fed to the detector (Blue, Green, Red, NIR).
var DefaultBands = []string{"B02", "B03", "B04", "B08"}

// bandIndex maps Sentinel-2 band names to 1-based band numbers in a MARIDA
// patch raster.
var bandIndex = map[string]int{
	"B02": 1,
	"B03": 2,
	"B04": 3,
	"B05": 4,
	"B06": 5,
	"B07": 6,
	"B08": 7,
	"B8A": 8,
	"B11": 9,
	"B12": 10,
}

// AugmentConfig controls the training-time augmentation draw. When all three
// probabilities are zero the section is treated as unset and each defaults to 0.5.
type AugmentConfig struct {
	RotateProb  float64 `yaml:"rotate_prob"`
	HFlipProb   float64 `yaml:"hflip_prob"`
	VFlipProb   float64 `yaml:"vflip_prob"`
	Seed        uint64  `yaml:"seed"`
	Photometric bool    `yaml:"photometric"`
}

// Config is the configuration surface of the corpus pipeline.
//
// Only these named fields are recognised. Components receive the struct
// explicitly; nothing is read from or written to the process environment after
// ApplyEnv.
type Config struct {
	DataDir    string        `yaml:"data_dir"`
	PatchesDir string        `yaml:"patches_dir"`
	SplitsDir  string        `yaml:"splits_dir"`
	LabelsFile string        `yaml:"labels_file"`
	ImageSize  int           `yaml:"image_size"`
	NumClasses int           `yaml:"num_classes"`
	Bands      []string      `yaml:"bands"`
	CacheSize  int           `yaml:"cache_size"`
	Augment    AugmentConfig `yaml:"augment"`
}

// Default returns a configuration rooted at dataDir with the MARIDA layout:
// patches under <dataDir>/patches, split files under <dataDir>/splits.
func Default(dataDir string) *Config {
	c := &Config{DataDir: dataDir}
	c.fillDefaults()
	return c
}

// Load reads a YAML configuration file. Fields omitted from the file take
// their defaults, so partial files are fine.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config file %s", ErrPathMissing, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.fillDefaults()
	return &c, nil
}

// ApplyEnv overrides directory settings from MARIDA_DATA_DIR,
// MARIDA_PATCHES_DIR and MARIDA_SPLITS_DIR when they are set. Directories that
// were derived from the data directory follow a data directory override.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MARIDA_DATA_DIR"); v != "" {
		old := c.DataDir
		c.DataDir = v
		if c.PatchesDir == filepath.Join(old, "patches") {
			c.PatchesDir = ""
		}
		if c.SplitsDir == filepath.Join(old, "splits") {
			c.SplitsDir = ""
		}
		if c.LabelsFile == filepath.Join(old, LabelsFileName) {
			c.LabelsFile = ""
		}
	}
	if v := os.Getenv("MARIDA_PATCHES_DIR"); v != "" {
		c.PatchesDir = v
	}
	if v := os.Getenv("MARIDA_SPLITS_DIR"); v != "" {
		c.SplitsDir = v
	}
	c.fillDefaults()
}

func (c *Config) fillDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.PatchesDir == "" {
		c.PatchesDir = filepath.Join(c.DataDir, "patches")
	}
	if c.SplitsDir == "" {
		c.SplitsDir = filepath.Join(c.DataDir, "splits")
	}
	if c.LabelsFile == "" {
		c.LabelsFile = filepath.Join(c.DataDir, LabelsFileName)
	}
	if c.ImageSize == 0 {
		c.ImageSize = DefaultImageSize
	}
	if c.NumClasses == 0 {
		c.NumClasses = DefaultNumClasses
	}
	if len(c.Bands) == 0 {
		c.Bands = append([]string(nil), DefaultBands...)
	}
	if c.Augment.RotateProb == 0 && c.Augment.HFlipProb == 0 && c.Augment.VFlipProb == 0 {
		c.Augment.RotateProb = 0.5
		c.Augment.HFlipProb = 0.5
		c.Augment.VFlipProb = 0.5
	}
}

// Validate checks that the data, patches and splits directories exist and
// that the numeric settings are usable. It is called before any sample is
// served so a broken layout fails fast.
func (c *Config) Validate() error {
	dirs := []struct {
		name, path string
	}{
		{"data directory", c.DataDir},
		{"patches directory", c.PatchesDir},
		{"splits directory", c.SplitsDir},
	}
	for _, d := range dirs {
		info, err := os.Stat(d.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s not found: %s", ErrPathMissing, d.name, d.path)
			}
			return fmt.Errorf("failed to stat %s: %w", d.name, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory: %s", ErrPathMissing, d.name, d.path)
		}
	}

	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be positive, got %d", c.NumClasses)
	}
	if c.ImageSize < 0 {
		return fmt.Errorf("image_size must not be negative, got %d", c.ImageSize)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", c.CacheSize)
	}
	for _, p := range []float64{c.Augment.RotateProb, c.Augment.HFlipProb, c.Augment.VFlipProb} {
		if p < 0 || p > 1 {
			return fmt.Errorf("augment probabilities must be within [0,1], got %v", p)
		}
	}
	if _, err := c.BandIndices(); err != nil {
		return err
	}
	return nil
}

// BandIndices returns the 1-based raster band numbers for the configured
// band names, in configuration order.
func (c *Config) BandIndices() ([]int, error) {
	if len(c.Bands) == 0 {
		return nil, errors.New("no bands configured")
	}
	idx := make([]int, len(c.Bands))
	seen := make(map[string]bool, len(c.Bands))
	for i, name := range c.Bands {
		key := strings.ToUpper(strings.TrimSpace(name))
		n, ok := bandIndex[key]
		if !ok {
			return nil, fmt.Errorf("unknown band %q", name)
		}
		if seen[key] {
			return nil, fmt.Errorf("band %q listed twice", name)
		}
		seen[key] = true
		idx[i] = n
	}
	return idx, nil
}

// SplitFile returns the path of the identifier list for a split name.
func (c *Config) SplitFile(split string) string {
	return filepath.Join(c.SplitsDir, split+"_X.txt")
}
