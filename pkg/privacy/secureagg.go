package privacy

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
)

// MaskStrategy derives the additive mask shared by an ordered client pair for
// a round. The primitive is pluggable: the default simulation derives masks
// from a session secret, but any scheme producing identical masks on both
// sides of a pair works.
type MaskStrategy interface {
	Name() string
	PairMask(low, high string, roundID uint64, dim int) []float64
}

// PairwiseMasking derives pair masks from a shared session secret. For the
// pair (low, high), low adds the mask and high subtracts it, so masks cancel
// exactly in the sum and the aggregator only ever observes masked vectors.
type PairwiseMasking struct {
	secret []byte
}

func NewPairwiseMasking(secret []byte) *PairwiseMasking {
	return &PairwiseMasking{secret: secret}
}

func (p *PairwiseMasking) Name() string { return "pairwise-masking" }

func (p *PairwiseMasking) PairMask(low, high string, roundID uint64, dim int) []float64 {
	h := sha256.New()
	h.Write(p.secret)
	h.Write([]byte(low))
	h.Write([]byte{0})
	h.Write([]byte(high))
	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], roundID)
	h.Write(roundBytes[:])

	seed := int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
	rng := rand.New(rand.NewSource(seed))

	mask := make([]float64, dim)
	for i := range mask {
		mask[i] = rng.NormFloat64()
	}

	return mask
}

// MaskedFedAvg aggregates sample-weighted client vectors that carry pairwise
// masks. Each contribution is masked with respect to the exact set of batch
// participants, so the masks cancel in the sum and the weighted mean equals
// plain FedAvg while no individual plaintext vector is inspected.
type MaskedFedAvg struct {
	strategy MaskStrategy
}

func NewMaskedFedAvg(strategy MaskStrategy) fl.Aggregator {
	return &MaskedFedAvg{strategy: strategy}
}

func (a *MaskedFedAvg) Aggregate(updates []fl.ModelUpdate, base fl.GlobalModel) (fl.GlobalModel, error) {
	if len(updates) == 0 {
		return fl.GlobalModel{}, fl.ErrEmptyBatch
	}

	dim := len(base.Parameters)
	var totalSamples uint64
	for i := range updates {
		if len(updates[i].Parameters) != dim {
			return fl.GlobalModel{}, fl.ErrDimensionMismatch
		}
		totalSamples += updates[i].NumSamples
	}
	if totalSamples == 0 {
		return fl.GlobalModel{}, fl.ErrZeroSamples
	}

	sum := make([]float64, dim)
	for i := range updates {
		masked := a.maskedVector(updates, i, dim)
		for j := range masked {
			sum[j] += masked[j]
		}
	}

	den := float64(totalSamples)
	for j := range sum {
		sum[j] /= den
	}

	return fl.GlobalModel{
		Version:    base.Version + 1,
		Parameters: sum,
		CreatedAt:  time.Now(),
	}, nil
}

// maskedVector simulates what the client would transmit: its sample-weighted
// parameters plus the pairwise masks against every other batch participant.
func (a *MaskedFedAvg) maskedVector(updates []fl.ModelUpdate, i, dim int) []float64 {
	u := updates[i]
	w := float64(u.NumSamples)

	out := make([]float64, dim)
	for j, v := range u.Parameters {
		out[j] = v * w
	}

	for k := range updates {
		if k == i {
			continue
		}
		other := updates[k].ClientID
		var mask []float64
		if u.ClientID < other {
			mask = a.strategy.PairMask(u.ClientID, other, u.RoundID, dim)
			for j := range out {
				out[j] += mask[j]
			}
		} else {
			mask = a.strategy.PairMask(other, u.ClientID, u.RoundID, dim)
			for j := range out {
				out[j] -= mask[j]
			}
		}
	}

	return out
}
