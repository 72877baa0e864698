package coordinator

import "errors"

var (
	// ErrInvalidStateTransition indicates a round state change outside the
	// state machine.
	ErrInvalidStateTransition = errors.New("invalid round state transition")

	// ErrNotSelected indicates a submission from a client outside the
	// round's participant set.
	ErrNotSelected = errors.New("client not selected for round")

	// ErrRoundExpired indicates a submission after the round deadline or
	// for a round that already reached a terminal state.
	ErrRoundExpired = errors.New("round expired")

	// ErrRoundNotOpen indicates a submission while no round is collecting.
	ErrRoundNotOpen = errors.New("no round is collecting updates")

	// ErrDuplicateUpdate indicates a second submission from the same client
	// within one round.
	ErrDuplicateUpdate = errors.New("duplicate update for round")

	// ErrTrainingStalled indicates too many consecutive failed rounds.
	// Automatic retry halts until an explicit restart.
	ErrTrainingStalled = errors.New("training stalled")

	// ErrSessionActive indicates a start request while the loop is running.
	ErrSessionActive = errors.New("training session already active")
)
