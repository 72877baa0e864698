package coordinator

import (
	"slices"
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
)

// RoundState is a round's position in its lifecycle.
type RoundState string

const (
	RoundStateSelecting    RoundState = "Selecting"
	RoundStateBroadcasting RoundState = "Broadcasting"
	RoundStateCollecting   RoundState = "Collecting"
	RoundStateAggregating  RoundState = "Aggregating"
	RoundStateCompleted    RoundState = "Completed"
	RoundStateFailed       RoundState = "Failed"
)

// Round is one synchronized cycle of selection, collection and aggregation.
// Completed and Failed are terminal; a failed round never advances the
// global model version.
type Round struct {
	ID            uint64           `json:"id"`
	State         RoundState       `json:"state"`
	Selected      []string         `json:"selected_clients"`
	Received      []fl.ModelUpdate `json:"received_updates"`
	StartedAt     time.Time        `json:"started_at"`
	Deadline      time.Time        `json:"deadline"`
	ResultVersion uint64           `json:"resulting_model_version,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// IsSelected reports whether a client belongs to the round's participant set.
func (r *Round) IsSelected(clientID string) bool {
	return slices.Contains(r.Selected, clientID)
}

// HasUpdateFrom reports whether a client has already submitted this round.
func (r *Round) HasUpdateFrom(clientID string) bool {
	for i := range r.Received {
		if r.Received[i].ClientID == clientID {
			return true
		}
	}

	return false
}

// Terminal reports whether the round reached a final state.
func (r *Round) Terminal() bool {
	return r.State == RoundStateCompleted || r.State == RoundStateFailed
}

var validTransitions = map[RoundState][]RoundState{
	RoundStateSelecting:    {RoundStateBroadcasting, RoundStateFailed},
	RoundStateBroadcasting: {RoundStateCollecting, RoundStateFailed},
	RoundStateCollecting:   {RoundStateAggregating, RoundStateFailed},
	RoundStateAggregating:  {RoundStateCompleted, RoundStateFailed},
	RoundStateCompleted:    {},
	RoundStateFailed:       {},
}

// ValidateTransition reports whether a round may move between two states.
func ValidateTransition(from, to RoundState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	return slices.Contains(allowed, to)
}

func (r *Round) transition(to RoundState) error {
	if !ValidateTransition(r.State, to) {
		return ErrInvalidStateTransition
	}

	r.State = to

	return nil
}
