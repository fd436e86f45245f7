package patch

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Identifier
		wantErr bool
	}{
		{"canonical", "1-12-19_48MYU_0", Identifier{"1-12-19", "48MYU", "0"}, false},
		{"multi-digit index", "22-12-20_48PZC_13", Identifier{"22-12-20", "48PZC", "13"}, false},
		{"too few components", "1-12-19_48MYU", Identifier{}, true},
		{"too many components", "1-12-19_48MYU_0_1", Identifier{}, true},
		{"empty middle", "1-12-19__0", Identifier{}, true},
		{"empty trailing", "1-12-19_48MYU_", Identifier{}, true},
		{"empty string", "", Identifier{}, true},
		{"parent traversal", "1-12-19_48MYU_a/../0", Identifier{}, true},
		{"dot component", "1-12-19_._0", Identifier{}, true},
		{"dot-dot component", "1-12-19_.._0", Identifier{}, true},
		{"backslash", `1-12-19_48MYU_a\0`, Identifier{}, true},
		{"absolute index", "1-12-19_48MYU_/etc", Identifier{}, true},
		{"whitespace", "1-12-19_48MYU_0 ", Identifier{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedIdentifier) {
					t.Fatalf("Parse(%q) error = %v, want ErrMalformedIdentifier", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestResolve_Example(t *testing.T) {
	root := filepath.Join("data", "patches")
	r := NewResolver(root)

	addr := r.Resolve(MustParse("1-12-19_48MYU_0"))

	dir := filepath.Join(root, "S2_1-12-19_48MYU")
	if want := filepath.Join(dir, "S2_1-12-19_48MYU_0.tif"); addr.ImagePath != want {
		t.Errorf("ImagePath: got %s, want %s", addr.ImagePath, want)
	}
	if want := filepath.Join(dir, "S2_1-12-19_48MYU_0_cl.tif"); addr.ClassMaskPath != want {
		t.Errorf("ClassMaskPath: got %s, want %s", addr.ClassMaskPath, want)
	}
	if want := filepath.Join(dir, "S2_1-12-19_48MYU_0_conf.tif"); addr.ConfidencePath != want {
		t.Errorf("ConfidencePath: got %s, want %s", addr.ConfidencePath, want)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := NewResolver("/srv/marida/patches")
	for _, s := range []string{"1-12-19_48MYU_0", "11-6-18_16PCC_24", "28-9-20_16PDC_5"} {
		a1, err := r.ResolveString(s)
		if err != nil {
			t.Fatalf("ResolveString(%q) failed: %v", s, err)
		}
		a2, err := r.ResolveString(s)
		if err != nil {
			t.Fatalf("ResolveString(%q) failed: %v", s, err)
		}
		if a1 != a2 {
			t.Errorf("Resolve(%q) not deterministic: %+v vs %+v", s, a1, a2)
		}
	}
}

func TestResolve_Injective(t *testing.T) {
	r := NewResolver("/patches")
	ids := []string{
		"1-12-19_48MYU_0",
		"1-12-19_48MYU_1",
		"1-12-19_48MYU_10",
		"1-12-19_48MYV_0",
		"1-12-18_48MYU_0",
		"11-2-19_48MYU_0",
	}

	seen := make(map[Address]string)
	for _, s := range ids {
		addr, err := r.ResolveString(s)
		if err != nil {
			t.Fatalf("ResolveString(%q) failed: %v", s, err)
		}
		if prev, ok := seen[addr]; ok {
			t.Errorf("%q and %q resolve to the same address", prev, s)
		}
		seen[addr] = s

		paths := addr.Paths()
		if paths[0] == paths[1] || paths[1] == paths[2] || paths[0] == paths[2] {
			t.Errorf("%q: address paths are not distinct: %v", s, paths)
		}
	}
}

func TestResolve_RejectsPathComponents(t *testing.T) {
	r := NewResolver("/data/patches")
	for _, s := range []string{
		"1-12-19_48MYU_a/../0",
		"1-12-19_48MYU_b/../0",
		"../../etc_passwd_0",
		"1-12-19_48MYU/.._0",
	} {
		if _, err := r.ResolveString(s); !errors.Is(err, ErrMalformedIdentifier) {
			t.Errorf("ResolveString(%q): got %v, want ErrMalformedIdentifier", s, err)
		}
	}
}

func TestResolveString_Malformed(t *testing.T) {
	r := NewResolver("/patches")
	if _, err := r.ResolveString("not-an-identifier"); !errors.Is(err, ErrMalformedIdentifier) {
		t.Errorf("expected ErrMalformedIdentifier, got %v", err)
	}
}

func TestLabelKey(t *testing.T) {
	id := MustParse("1-12-19_48MYU_0")
	if got := LabelKey(id); got != "S2_1-12-19_48MYU_0.tif" {
		t.Errorf("LabelKey: got %s, want S2_1-12-19_48MYU_0.tif", got)
	}

	// The label key must name the same file as the image path.
	addr := NewResolver("/patches").Resolve(id)
	if filepath.Base(addr.ImagePath) != LabelKey(id) {
		t.Errorf("label key %s does not match image file %s", LabelKey(id), filepath.Base(addr.ImagePath))
	}
}

func TestIdentifier_Scene(t *testing.T) {
	if got := MustParse("1-12-19_48MYU_0").Scene(); got != "S2_1-12-19_48MYU" {
		t.Errorf("Scene: got %s", got)
	}
}
