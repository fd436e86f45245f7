// Package labels loads the patch to multi-label vector mapping of the corpus.
//
// The label source is a single mapping from image file name ("S2_<id>.tif") to
// a fixed-length vector of binary class indicators. A Table is immutable after
// Load and safe for concurrent lookups.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/marida-corpus-mcp/internal/patch"
)

var (
	// ErrSourceMissing is returned when the label source file does not exist.
	ErrSourceMissing = errors.New("label source missing")

	// ErrMalformedSource is returned when the label source cannot be read as a
	// mapping of file names to fixed-length binary vectors.
	ErrMalformedSource = errors.New("malformed label source")

	// ErrNotFound is returned when a lookup key is absent from the table.
	ErrNotFound = errors.New("label not found")
)

// ClassNames lists the MARIDA classes in label vector order.
var ClassNames = []string{
	"marine_debris",
	"dense_plastic",
	"sparse_plastic",
	"dense_sargassum",
	"sparse_sargassum",
	"natural_organic",
	"ship",
	"cloud",
	"cloud_shadow",
	"water",
	"water_turbid",
	"water_sediment",
	"land",
	"floating_algae",
	"other",
}

// Vector is one multi-label indicator vector.
type Vector []float32

// Positives returns the indices of the classes present in v.
func (v Vector) Positives() []int {
	var out []int
	for i, x := range v {
		if x != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Names returns the class names present in v. Indices without a known name
// are rendered as "class_<i>".
func (v Vector) Names() []string {
	pos := v.Positives()
	names := make([]string, len(pos))
	for i, p := range pos {
		if p < len(ClassNames) {
			names[i] = ClassNames[p]
		} else {
			names[i] = fmt.Sprintf("class_%d", p)
		}
	}
	return names
}

// Table maps label keys to vectors.
type Table struct {
	path       string
	numClasses int
	entries    map[string]Vector
}

// Load reads the label source at path. Every vector must have exactly
// numClasses entries, each 0 or 1.
//
// The file is normally JSON. Content that is not valid JSON is parsed as YAML,
// which accepts the same mapping written in block style.
func Load(path string, numClasses int) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("failed to read label source %s: %w", path, err)
	}
	return Parse(data, path, numClasses)
}

// Parse decodes label source content. name is used in error messages only.
func Parse(data []byte, name string, numClasses int) (*Table, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("num_classes must be positive, got %d", numClasses)
	}

	// raw stays nil for an empty, comment-only or null document.
	var raw map[string][]float64
	if json.Valid(data) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSource, name, err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSource, name, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s: empty or not a mapping", ErrMalformedSource, name)
	}

	entries := make(map[string]Vector, len(raw))
	for key, values := range raw {
		if key == "" {
			return nil, fmt.Errorf("%w: %s: empty key", ErrMalformedSource, name)
		}
		if len(values) != numClasses {
			return nil, fmt.Errorf("%w: %s: key %q has %d values, want %d",
				ErrMalformedSource, name, key, len(values), numClasses)
		}
		v := make(Vector, numClasses)
		for i, x := range values {
			if x != 0 && x != 1 {
				return nil, fmt.Errorf("%w: %s: key %q value %d is %v, want 0 or 1",
					ErrMalformedSource, name, key, i, x)
			}
			v[i] = float32(x)
		}
		entries[key] = v
	}

	return &Table{path: name, numClasses: numClasses, entries: entries}, nil
}

// Get returns a copy of the vector stored under filename.
func (t *Table) Get(filename string) (Vector, error) {
	v, ok := t.entries[filename]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, filename, t.path)
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out, nil
}

// Lookup returns the vector for a patch identifier.
func (t *Table) Lookup(id patch.Identifier) (Vector, error) {
	return t.Get(patch.LabelKey(id))
}

// Has reports whether filename has an entry.
func (t *Table) Has(filename string) bool {
	_, ok := t.entries[filename]
	return ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// NumClasses returns the vector length.
func (t *Table) NumClasses() int {
	return t.numClasses
}

// Keys returns all keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClassCounts returns, per class, how many entries have that class present.
func (t *Table) ClassCounts() []int {
	counts := make([]int, t.numClasses)
	for _, v := range t.entries {
		for i, x := range v {
			if x != 0 {
				counts[i]++
			}
		}
	}
	return counts
}
