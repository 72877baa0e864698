package fl

import (
	"errors"
	"time"
)

var (
	// ErrEmptyBatch indicates that aggregation was requested with no updates.
	ErrEmptyBatch = errors.New("empty update batch")

	// ErrDimensionMismatch indicates a parameter vector whose length differs
	// from the global model schema.
	ErrDimensionMismatch = errors.New("parameter dimension mismatch")

	// ErrZeroSamples indicates that the batch carries no sample weight.
	ErrZeroSamples = errors.New("total sample count is zero")
)

// ModelUpdate is one client's contribution to a round. Immutable once recorded.
type ModelUpdate struct {
	ClientID      string    `json:"client_id"`
	RoundID       uint64    `json:"round_id"`
	Parameters    []float64 `json:"parameters"`
	NumSamples    uint64    `json:"num_samples"`
	LocalLoss     float64   `json:"local_loss"`
	LocalAccuracy float64   `json:"local_accuracy,omitempty"`
	ReceivedAt    time.Time `json:"received_at,omitempty"`
}

// GlobalModel is one version of the shared model. A new version supersedes
// but never mutates the prior one.
type GlobalModel struct {
	Version    uint64    `json:"version"`
	Parameters []float64 `json:"parameters"`
	CreatedAt  time.Time `json:"created_at"`
}

// Clone returns a deep copy so that history entries stay append-only.
func (m GlobalModel) Clone() GlobalModel {
	params := make([]float64, len(m.Parameters))
	copy(params, m.Parameters)

	return GlobalModel{
		Version:    m.Version,
		Parameters: params,
		CreatedAt:  m.CreatedAt,
	}
}

// Aggregator merges a batch of client updates into the next global model.
// Implementations must be deterministic for an identical ordered batch.
type Aggregator interface {
	Aggregate(updates []ModelUpdate, base GlobalModel) (GlobalModel, error)
}

func validateBatch(updates []ModelUpdate, base GlobalModel) error {
	if len(updates) == 0 {
		return ErrEmptyBatch
	}

	dim := len(base.Parameters)
	for i := range updates {
		if len(updates[i].Parameters) != dim {
			return ErrDimensionMismatch
		}
	}

	return nil
}
