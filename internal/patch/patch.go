package patch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrMalformedIdentifier is returned when an identifier does not decompose into
// exactly three non-empty underscore-delimited components of ASCII letters,
// digits and hyphens.
var ErrMalformedIdentifier = errors.New("malformed patch identifier")

const (
	separator   = "_"
	scenePrefix = "S2_"

	imageSuffix      = ".tif"
	classMaskSuffix  = "_cl.tif"
	confidenceSuffix = "_conf.tif"
)

// Identifier is a parsed patch identifier.
type Identifier struct {
	// Date is the acquisition code, e.g. "1-12-19".
	Date string `json:"date"`

	// Tile is the Sentinel-2 tile code, e.g. "48MYU".
	Tile string `json:"tile"`

	// Index is the patch index within the scene, e.g. "0".
	Index string `json:"index"`
}

// Parse splits s into its three components.
func Parse(s string) (Identifier, error) {
	parts := strings.Split(s, separator)
	if len(parts) != 3 {
		return Identifier{}, fmt.Errorf("%w: %q has %d components, want 3", ErrMalformedIdentifier, s, len(parts))
	}
	for i, p := range parts {
		if p == "" {
			return Identifier{}, fmt.Errorf("%w: %q has empty component %d", ErrMalformedIdentifier, s, i+1)
		}
		if j := strings.IndexFunc(p, invalidRune); j >= 0 {
			return Identifier{}, fmt.Errorf("%w: %q has invalid character %q in component %d", ErrMalformedIdentifier, s, p[j], i+1)
		}
	}
	return Identifier{Date: parts[0], Tile: parts[1], Index: parts[2]}, nil
}

// invalidRune reports runes outside [A-Za-z0-9-]. Path separators and dots
// never reach a resolved path.
func invalidRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		return false
	}
	return true
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String reassembles the canonical token.
func (id Identifier) String() string {
	return id.Date + separator + id.Tile + separator + id.Index
}

// Scene returns the scene directory name, "S2_<date>_<tile>".
func (id Identifier) Scene() string {
	return scenePrefix + id.Date + separator + id.Tile
}

// baseName returns "S2_<date>_<tile>_<index>".
func (id Identifier) baseName() string {
	return scenePrefix + id.String()
}

// LabelKey returns the key under which the label table stores the label
// vector for id. It is the image file name without any directory.
func LabelKey(id Identifier) string {
	return id.baseName() + imageSuffix
}

// Address holds the three raster paths of one patch.
type Address struct {
	ImagePath      string `json:"image_path"`
	ClassMaskPath  string `json:"class_mask_path"`
	ConfidencePath string `json:"confidence_path"`
}

// Paths returns the three paths in image, class mask, confidence order.
func (a Address) Paths() [3]string {
	return [3]string{a.ImagePath, a.ClassMaskPath, a.ConfidencePath}
}

// Resolver builds addresses under a patch root directory.
type Resolver struct {
	Root string
}

// NewResolver creates a resolver rooted at the patches directory.
func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

// Resolve returns the address triple for id.
//
// Distinct identifiers always produce distinct triples: the image file name
// embeds the full identifier and the directory embeds its date and tile.
// Parse admits no component that filepath.Join could clean away.
func (r *Resolver) Resolve(id Identifier) Address {
	dir := filepath.Join(r.Root, id.Scene())
	base := id.baseName()
	return Address{
		ImagePath:      filepath.Join(dir, base+imageSuffix),
		ClassMaskPath:  filepath.Join(dir, base+classMaskSuffix),
		ConfidencePath: filepath.Join(dir, base+confidenceSuffix),
	}
}

// ResolveString parses s and resolves it in one step.
func (r *Resolver) ResolveString(s string) (Address, error) {
	id, err := Parse(s)
	if err != nil {
		return Address{}, err
	}
	return r.Resolve(id), nil
}
