package augment

import (
	"math"
	"math/rand/v2"

	"github.com/ironsheep/marida-corpus-mcp/internal/raster"
)

// Photometric jitter limits. Brightness is a fraction of the maximum pixel
// value; noise variance is in raw pixel units.
const (
	jitterProb      = 0.5
	brightnessLimit = 0.2
	contrastLimit   = 0.2
	noiseProb       = 0.3
	noiseVarMin     = 10.0
	noiseVarMax     = 50.0
)

// jitter is one photometric draw.
type jitter struct {
	contrast   float64
	brightness float64
	noiseSigma float64
	noiseSeed  uint64
}

func drawJitter(rng *rand.Rand) jitter {
	j := jitter{contrast: 1}
	if rng.Float64() < jitterProb {
		j.contrast = 1 + contrastLimit*(2*rng.Float64()-1)
		j.brightness = brightnessLimit * (2*rng.Float64() - 1)
	}
	if rng.Float64() < noiseProb {
		j.noiseSigma = math.Sqrt(noiseVarMin + (noiseVarMax-noiseVarMin)*rng.Float64())
		j.noiseSeed = rng.Uint64()
	}
	return j
}

// apply jitters r in place. The confidence mask is never passed here.
func (j jitter) apply(r *raster.Raster, maxPixel float64) {
	var noise *rand.Rand
	if j.noiseSigma > 0 {
		noise = rand.New(rand.NewPCG(j.noiseSeed, 0))
	}
	offset := j.brightness * maxPixel
	for i, v := range r.Data {
		x := float64(v)*j.contrast + offset
		if noise != nil {
			x += noise.NormFloat64() * j.noiseSigma
		}
		r.Data[i] = float32(x)
	}
}
