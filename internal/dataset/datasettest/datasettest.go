// Package datasettest writes small synthetic corpora for tests.
package datasettest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ironsheep/marida-corpus-mcp/internal/config"
	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// Options describes a synthetic corpus. Zero values pick small defaults.
type Options struct {
	// Splits maps split names to identifiers. Every named split gets a split
	// file even when its list is empty.
	Splits map[string][]string

	// Size is the patch height and width. Defaults to 8.
	Size int

	// ImageBands is the band count of each image raster. Defaults to 11.
	ImageBands int

	// NoLabel lists identifiers left out of the label source.
	NoLabel []string

	// NoRasters lists identifiers whose rasters are not written.
	NoRasters []string

	// Misaligned lists identifiers whose confidence mask is one column short.
	Misaligned []string
}

// Write builds the corpus under t.TempDir() and returns a configuration
// pointing at it. Patches are numbered from 1 in split name order, then file
// order; the number seeds the patch's pixel values and label vector.
func Write(t *testing.T, opts Options) *config.Config {
	t.Helper()
	if opts.Size == 0 {
		opts.Size = 8
	}
	if opts.ImageBands == 0 {
		opts.ImageBands = 11
	}

	cfg := config.Default(t.TempDir())
	cfg.ImageSize = opts.Size
	for _, dir := range []string{cfg.PatchesDir, cfg.SplitsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	skip := func(list []string, id string) bool {
		for _, s := range list {
			if s == id {
				return true
			}
		}
		return false
	}

	mapping := make(map[string][]int)
	resolver := patch.NewResolver(cfg.PatchesDir)
	names := make([]string, 0, len(opts.Splits))
	for split := range opts.Splits {
		names = append(names, split)
	}
	sort.Strings(names)

	n := 0
	for _, split := range names {
		ids := opts.Splits[split]
		content := strings.Join(ids, "\n")
		if len(ids) > 0 {
			content += "\n"
		}
		if err := os.WriteFile(cfg.SplitFile(split), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write split %s: %v", split, err)
		}

		for _, s := range ids {
			id, err := patch.Parse(s)
			if err != nil {
				// Malformed identifiers are written to the split file only.
				continue
			}
			n++
			if !skip(opts.NoLabel, s) {
				mapping[patch.LabelKey(id)] = LabelVector(n, cfg.NumClasses)
			}
			if skip(opts.NoRasters, s) {
				continue
			}
			confWidth := opts.Size
			if skip(opts.Misaligned, s) {
				confWidth--
			}
			WritePatch(t, resolver.Resolve(id), opts.ImageBands, opts.Size, opts.Size, confWidth, float32(n))
		}
	}

	data, err := json.Marshal(mapping)
	if err != nil {
		t.Fatalf("failed to encode labels: %v", err)
	}
	if err := os.WriteFile(cfg.LabelsFile, data, 0o644); err != nil {
		t.Fatalf("failed to write labels: %v", err)
	}
	return cfg
}

// LabelVector returns the deterministic label vector for the n-th patch:
// class n%classes is present, as is class 0 for even n.
func LabelVector(n, classes int) []int {
	v := make([]int, classes)
	v[n%classes] = 1
	if n%2 == 0 {
		v[0] = 1
	}
	return v
}

// WritePatch writes the raster triple for addr. Image band b holds
// base*100 + b*10 + (y*w+x)%10; the class mask cycles through 0..15; the
// confidence mask holds 1, 2 or 3.
func WritePatch(t *testing.T, addr patch.Address, bands, h, w, confWidth int, base float32) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(addr.ImagePath), 0o755); err != nil {
		t.Fatalf("failed to create scene dir: %v", err)
	}

	img := raster.New(bands, h, w)
	for b := 0; b < bands; b++ {
		band := img.Band(b)
		for i := range band {
			band[i] = base*100 + float32(b*10+i%10)
		}
	}
	mask := raster.New(1, h, w)
	for i := range mask.Data {
		mask.Data[i] = float32(i % 16)
	}
	conf := raster.New(1, h, confWidth)
	for i := range conf.Data {
		conf.Data[i] = float32(i%3 + 1)
	}

	for path, r := range map[string]*raster.Raster{
		addr.ImagePath:      img,
		addr.ClassMaskPath:  mask,
		addr.ConfidencePath: conf,
	} {
		if err := raster.WriteFile(path, r, nil); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
}
