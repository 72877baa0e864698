package fl

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrTooFewUpdates indicates that a robust policy cannot run on the batch size
// it was given.
var ErrTooFewUpdates = errors.New("too few updates for robust aggregation")

// TrimmedMeanAggregator drops the highest and lowest TrimFraction of values
// per coordinate before averaging, limiting the pull of outlier contributions.
type TrimmedMeanAggregator struct {
	TrimFraction float64
}

func NewTrimmedMeanAggregator(trimFraction float64) (Aggregator, error) {
	if trimFraction < 0 || trimFraction >= 0.5 {
		return nil, fmt.Errorf("trim fraction %v out of range [0, 0.5)", trimFraction)
	}

	return &TrimmedMeanAggregator{TrimFraction: trimFraction}, nil
}

func (a *TrimmedMeanAggregator) Aggregate(updates []ModelUpdate, base GlobalModel) (GlobalModel, error) {
	if err := validateBatch(updates, base); err != nil {
		return GlobalModel{}, err
	}

	n := len(updates)
	k := int(a.TrimFraction * float64(n))
	if n-2*k < 1 {
		return GlobalModel{}, ErrTooFewUpdates
	}

	dim := len(base.Parameters)
	params := make([]float64, dim)
	column := make([]float64, n)

	for j := 0; j < dim; j++ {
		for i := range updates {
			column[i] = updates[i].Parameters[j]
		}
		sort.Float64s(column)

		var sum float64
		for _, v := range column[k : n-k] {
			sum += v
		}
		params[j] = sum / float64(n-2*k)
	}

	return GlobalModel{
		Version:    base.Version + 1,
		Parameters: params,
		CreatedAt:  time.Now(),
	}, nil
}

// KrumAggregator selects the single update closest to its n-f-2 nearest
// neighbours by squared Euclidean distance, discarding contributions that sit
// far from the majority. Ties break on batch order, keeping the result
// deterministic for an identical ordered batch.
type KrumAggregator struct {
	// ByzantineCount is f, the assumed number of malicious clients.
	ByzantineCount int
}

func NewKrumAggregator(byzantineCount int) (Aggregator, error) {
	if byzantineCount < 0 {
		return nil, fmt.Errorf("byzantine count %d must be non-negative", byzantineCount)
	}

	return &KrumAggregator{ByzantineCount: byzantineCount}, nil
}

func (a *KrumAggregator) Aggregate(updates []ModelUpdate, base GlobalModel) (GlobalModel, error) {
	if err := validateBatch(updates, base); err != nil {
		return GlobalModel{}, err
	}

	n := len(updates)
	neighbours := n - a.ByzantineCount - 2
	if neighbours < 1 {
		return GlobalModel{}, ErrTooFewUpdates
	}

	dists := make([][]float64, n)
	for i := range dists {
		dists[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := squaredDistance(updates[i].Parameters, updates[j].Parameters)
			dists[i][j] = d
			dists[j][i] = d
		}
	}

	best := 0
	bestScore := krumScore(dists[0], 0, neighbours)
	for i := 1; i < n; i++ {
		score := krumScore(dists[i], i, neighbours)
		if score < bestScore {
			best = i
			bestScore = score
		}
	}

	params := make([]float64, len(updates[best].Parameters))
	copy(params, updates[best].Parameters)

	return GlobalModel{
		Version:    base.Version + 1,
		Parameters: params,
		CreatedAt:  time.Now(),
	}, nil
}

func krumScore(row []float64, self, neighbours int) float64 {
	others := make([]float64, 0, len(row)-1)
	for i, d := range row {
		if i == self {
			continue
		}
		others = append(others, d)
	}
	sort.Float64s(others)

	var score float64
	for _, d := range others[:neighbours] {
		score += d
	}

	return score
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}
