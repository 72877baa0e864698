package privacy

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
)

// Sanitization modes accepted in session configuration.
const (
	ModeOff = "off"
	// ModeCentral simulates a trusted aggregator: the coordinator clips and
	// noises each update before it reaches aggregation.
	ModeCentral = "central"
	// ModeSecure adds pairwise masking on top of clipping, so the
	// coordinator only observes the masked sum.
	ModeSecure = "secure"
)

// Sanitizer clips an update to an L2 norm bound and adds independent Gaussian
// noise with standard deviation NoiseMultiplier * ClipNorm per coordinate.
type Sanitizer struct {
	noiseMultiplier float64
	clipNorm        float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSanitizer(noiseMultiplier, clipNorm float64, seed int64) (*Sanitizer, error) {
	if clipNorm <= 0 {
		return nil, fmt.Errorf("clip norm %v must be positive", clipNorm)
	}
	if noiseMultiplier < 0 {
		return nil, fmt.Errorf("noise multiplier %v must be non-negative", noiseMultiplier)
	}

	return &Sanitizer{
		noiseMultiplier: noiseMultiplier,
		clipNorm:        clipNorm,
		rng:             rand.New(rand.NewSource(seed)),
	}, nil
}

// Apply returns a sanitized copy of the update. The input is not mutated.
func (s *Sanitizer) Apply(update fl.ModelUpdate) fl.ModelUpdate {
	params := ClipL2(update.Parameters, s.clipNorm)

	sigma := s.noiseMultiplier * s.clipNorm
	if sigma > 0 {
		s.mu.Lock()
		for i := range params {
			params[i] += s.rng.NormFloat64() * sigma
		}
		s.mu.Unlock()
	}

	sanitized := update
	sanitized.Parameters = params

	return sanitized
}

// ClipL2 scales the vector down so its L2 norm does not exceed bound.
// Always returns a fresh slice.
func ClipL2(params []float64, bound float64) []float64 {
	out := make([]float64, len(params))
	copy(out, params)

	var sq float64
	for _, v := range out {
		sq += v * v
	}
	norm := math.Sqrt(sq)
	if norm <= bound || norm == 0 {
		return out
	}

	scale := bound / norm
	for i := range out {
		out[i] *= scale
	}

	return out
}
