package api

import (
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/registry"
)

type sessionStateRes struct {
	TrainingActive bool   `json:"training_active"`
	Detail         string `json:"detail,omitempty"`
}

type registerClientRes struct {
	Client registry.Client `json:"client"`
}

type acceptedRes struct {
	RoundID  uint64 `json:"round_id"`
	ClientID string `json:"client_id"`
	Accepted bool   `json:"accepted"`
}

type modelRes struct {
	Version    uint64    `json:"version"`
	Parameters []float64 `json:"parameters"`
	CreatedAt  time.Time `json:"created_at"`
}
