package preview

import (
	"sort"

	"github.com/ironsheep/marida-corpus-mcp/internal/labels"
	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// ClassFrequency is the share of a class mask covered by one class.
type ClassFrequency struct {
	Code       int     `json:"code"`
	Name       string  `json:"name"`
	Hex        string  `json:"hex"`
	Pixels     int     `json:"pixels"`
	Percentage float64 `json:"percentage"` // of all pixels, 0-100
}

// ClassHistogram counts the class codes present in mask, most frequent
// first. Unlabeled pixels are counted under code 0 with the name
// "unlabeled". At most count entries are returned when count is positive.
func ClassHistogram(mask *raster.Raster, count int) []ClassFrequency {
	counts := make(map[int]int)
	for _, v := range mask.Band(0) {
		counts[int(v)]++
	}
	total := mask.Height * mask.Width

	out := make([]ClassFrequency, 0, len(counts))
	for code, n := range counts {
		f := ClassFrequency{
			Code:       code,
			Name:       "unknown",
			Pixels:     n,
			Percentage: float64(n) / float64(total) * 100,
		}
		switch {
		case code == 0:
			f.Name = "unlabeled"
		case code >= 1 && code <= len(labels.ClassNames):
			f.Name = labels.ClassNames[code-1]
			f.Hex = ClassPalette[code-1].Hex()
		}
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pixels != out[j].Pixels {
			return out[i].Pixels > out[j].Pixels
		}
		return out[i].Code < out[j].Code
	})
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out
}
