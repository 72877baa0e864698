package api

import (
	"fmt"

	pkgerrors "github.com/Abhishek-yadav04/agis-flow-test/pkg/errors"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
)

type registerClientReq struct {
	ClientID    string `json:"client_id"`
	DatasetSize uint64 `json:"dataset_size"`
}

// An empty client_id is allowed; the registry assigns one.
func (r registerClientReq) Validate() error {
	if r.DatasetSize == 0 {
		return fmt.Errorf("register request: dataset_size must be positive: %w", pkgerrors.ErrInvalidData)
	}

	return nil
}

type heartbeatReq struct {
	ClientID string `json:"-"`
}

func (r heartbeatReq) Validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("heartbeat request: client_id is required but missing: %w", pkgerrors.ErrInvalidData)
	}

	return nil
}

type submitUpdateReq struct {
	ClientID      string    `json:"client_id"      cbor:"client_id"`
	RoundID       uint64    `json:"round_id"       cbor:"round_id"`
	Parameters    []float64 `json:"parameters"     cbor:"parameters"`
	NumSamples    uint64    `json:"num_samples"    cbor:"num_samples"`
	LocalLoss     float64   `json:"local_loss"     cbor:"local_loss"`
	LocalAccuracy float64   `json:"local_accuracy" cbor:"local_accuracy"`
}

func (r submitUpdateReq) Validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("update request: client_id is required but missing: %w", pkgerrors.ErrInvalidData)
	}
	if len(r.Parameters) == 0 {
		return fmt.Errorf("update request: parameters are required but missing: %w", pkgerrors.ErrInvalidData)
	}
	if r.NumSamples == 0 {
		return fmt.Errorf("update request: num_samples must be positive: %w", fl.ErrZeroSamples)
	}

	return nil
}

func (r submitUpdateReq) toUpdate() fl.ModelUpdate {
	return fl.ModelUpdate{
		ClientID:      r.ClientID,
		RoundID:       r.RoundID,
		Parameters:    r.Parameters,
		NumSamples:    r.NumSamples,
		LocalLoss:     r.LocalLoss,
		LocalAccuracy: r.LocalAccuracy,
	}
}

type listClientsReq struct {
	Offset uint64
	Limit  uint64
}

type getModelReq struct {
	Version uint64
}

type listRoundsReq struct {
	Limit uint64
}
