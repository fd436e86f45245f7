package raster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
)

// writePatch writes an image with imageBands bands plus single-band class
// and confidence masks for id under root.
func writePatch(t *testing.T, root string, id patch.Identifier, imageBands, h, w, maskH, maskW int) patch.Address {
	t.Helper()
	addr := patch.NewResolver(root).Resolve(id)
	if err := os.MkdirAll(filepath.Dir(addr.ImagePath), 0o755); err != nil {
		t.Fatalf("failed to create scene dir: %v", err)
	}

	img := New(imageBands, h, w)
	for b := 0; b < imageBands; b++ {
		for i := range img.Band(b) {
			img.Band(b)[i] = float32(1000*(b+1) + i)
		}
	}
	mask := New(1, maskH, maskW)
	conf := New(1, maskH, maskW)
	for i := range mask.Data {
		mask.Data[i] = float32(i % 16)
		conf.Data[i] = float32(i%3 + 1)
	}

	for path, r := range map[string]*Raster{
		addr.ImagePath:      img,
		addr.ClassMaskPath:  mask,
		addr.ConfidencePath: conf,
	} {
		if err := WriteFile(path, r, &EncodeOptions{Compression: Deflate}); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
	return addr
}

func TestLoaderLoad(t *testing.T) {
	root := t.TempDir()
	addr := writePatch(t, root, patch.MustParse("1-12-19_48MYU_0"), 11, 8, 6, 8, 6)

	p, err := NewLoader(nil, nil).Load(addr)
	require.NoError(t, err)

	assert.Equal(t, [3]int{4, 8, 6}, p.Image.Shape())
	assert.Equal(t, [3]int{1, 8, 6}, p.ClassMask.Shape())
	assert.Equal(t, [3]int{1, 8, 6}, p.Confidence.Shape())

	// Default bands are 1, 2, 3 and 7.
	for i, b := range []int{1, 2, 3, 7} {
		if got, want := p.Image.At(i, 0, 0), float32(1000*b); got != want {
			t.Errorf("image band %d: got %v, want %v", i, got, want)
		}
	}
	assert.Equal(t, float32(5), p.ClassMask.At(0, 0, 5))
	assert.Equal(t, float32(3), p.Confidence.At(0, 0, 2))
}

func TestLoaderMissing(t *testing.T) {
	root := t.TempDir()
	addr := writePatch(t, root, patch.MustParse("1-12-19_48MYU_0"), 11, 4, 4, 4, 4)

	for _, path := range addr.Paths() {
		t.Run(filepath.Base(path), func(t *testing.T) {
			missing := addr
			switch path {
			case addr.ImagePath:
				missing.ImagePath += ".gone"
			case addr.ClassMaskPath:
				missing.ClassMaskPath += ".gone"
			default:
				missing.ConfidencePath += ".gone"
			}
			p, err := NewLoader(nil, nil).Load(missing)
			if !errors.Is(err, ErrMissing) {
				t.Fatalf("got %v, want ErrMissing", err)
			}
			if p != nil {
				t.Error("expected no partial result")
			}
		})
	}
}

func TestLoaderAlignment(t *testing.T) {
	root := t.TempDir()
	addr := writePatch(t, root, patch.MustParse("1-12-19_48MYU_0"), 11, 8, 8, 8, 7)

	_, err := NewLoader(nil, nil).Load(addr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlignment))

	var ae *AlignmentError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, addr.ClassMaskPath, ae.Path)
	assert.Equal(t, [2]int{8, 8}, ae.Expected)
	assert.Equal(t, [2]int{8, 7}, ae.Actual)
}

func TestLoaderTooFewBands(t *testing.T) {
	root := t.TempDir()
	addr := writePatch(t, root, patch.MustParse("1-12-19_48MYU_0"), 3, 4, 4, 4, 4)

	_, err := NewLoader(nil, nil).Load(addr)
	if !errors.Is(err, ErrRead) {
		t.Errorf("got %v, want ErrRead", err)
	}
}

func TestLoaderCorruptFile(t *testing.T) {
	root := t.TempDir()
	addr := writePatch(t, root, patch.MustParse("1-12-19_48MYU_0"), 11, 4, 4, 4, 4)
	require.NoError(t, os.WriteFile(addr.ConfidencePath, []byte("garbage"), 0o644))

	_, err := NewLoader(nil, nil).Load(addr)
	if !errors.Is(err, ErrRead) {
		t.Errorf("got %v, want ErrRead", err)
	}
}

func TestLoaderCache(t *testing.T) {
	root := t.TempDir()
	addr := writePatch(t, root, patch.MustParse("1-12-19_48MYU_0"), 11, 4, 4, 4, 4)

	cache, err := NewCache(2)
	require.NoError(t, err)
	loader := NewLoader([]int{2}, cache)

	first, err := loader.Load(addr)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	// Mutating a returned patch must not leak into the cache.
	first.Image.Data[0] = -1

	// Removing the files proves the second load is served from memory.
	for _, path := range addr.Paths() {
		require.NoError(t, os.Remove(path))
	}
	second, err := loader.Load(addr)
	require.NoError(t, err)
	assert.Equal(t, float32(2000), second.Image.Data[0])

	cache.Clear()
	_, err = loader.Load(addr)
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestCacheEviction(t *testing.T) {
	cache, err := NewCache(1)
	require.NoError(t, err)

	p := &Patch{Image: New(1, 1, 1), ClassMask: New(1, 1, 1), Confidence: New(1, 1, 1)}
	a := patch.Address{ImagePath: "a"}
	b := patch.Address{ImagePath: "b"}
	cache.Add(a, p)
	cache.Add(b, p)

	if _, ok := cache.Get(a); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := cache.Get(b); !ok {
		t.Error("expected b to be cached")
	}
	cache.Evict(b)
	assert.Equal(t, 0, cache.Len())

	if _, err := NewCache(0); err == nil {
		t.Error("expected error for zero-size cache")
	}
}

func TestSelectBands(t *testing.T) {
	r := sampleRaster(3, 2, 2)
	out, err := r.SelectBands([]int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, r.Band(2), out.Band(0))
	assert.Equal(t, r.Band(0), out.Band(1))

	_, err = r.SelectBands([]int{4})
	assert.Error(t, err)
}
