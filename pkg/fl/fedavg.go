package fl

import "time"

// FedAvgAggregator computes the sample-size-weighted mean of client
// parameters, coordinate by coordinate.
type FedAvgAggregator struct{}

func NewFedAvgAggregator() Aggregator {
	return &FedAvgAggregator{}
}

func (a *FedAvgAggregator) Aggregate(updates []ModelUpdate, base GlobalModel) (GlobalModel, error) {
	if err := validateBatch(updates, base); err != nil {
		return GlobalModel{}, err
	}

	var totalSamples uint64
	for i := range updates {
		totalSamples += updates[i].NumSamples
	}
	if totalSamples == 0 {
		return GlobalModel{}, ErrZeroSamples
	}

	dim := len(base.Parameters)
	sum := make([]float64, dim)
	for i := range updates {
		w := float64(updates[i].NumSamples)
		for j, v := range updates[i].Parameters {
			sum[j] += v * w
		}
	}

	den := float64(totalSamples)
	for j := range sum {
		sum[j] /= den
	}

	return GlobalModel{
		Version:    base.Version + 1,
		Parameters: sum,
		CreatedAt:  time.Now(),
	}, nil
}
