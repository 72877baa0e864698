package privacy

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExhausted indicates that charging the round would exceed the
// session's total privacy budget. It terminates the training session.
var ErrBudgetExhausted = errors.New("privacy budget exhausted")

// Budget is a read-only view of the accountant state.
type Budget struct {
	EpsilonTotal    float64 `json:"epsilon_total"`
	EpsilonSpent    float64 `json:"epsilon_spent"`
	NoiseMultiplier float64 `json:"noise_multiplier"`
}

// Accountant tracks cumulative privacy loss under linear composition.
// Spent epsilon is monotonically non-decreasing for the session lifetime.
type Accountant struct {
	mu              sync.Mutex
	epsilonTotal    float64
	epsilonSpent    float64
	noiseMultiplier float64
}

func NewAccountant(epsilonTotal, noiseMultiplier float64) (*Accountant, error) {
	if epsilonTotal <= 0 {
		return nil, fmt.Errorf("epsilon total %v must be positive", epsilonTotal)
	}

	return &Accountant{
		epsilonTotal:    epsilonTotal,
		noiseMultiplier: noiseMultiplier,
	}, nil
}

// Charge adds one round's epsilon cost. It fails without spending when the
// charge would exceed the total budget.
func (a *Accountant) Charge(epsilonRound float64) (Budget, error) {
	if epsilonRound < 0 {
		return Budget{}, fmt.Errorf("round epsilon %v must be non-negative", epsilonRound)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.epsilonSpent+epsilonRound > a.epsilonTotal {
		return a.budgetLocked(), ErrBudgetExhausted
	}

	a.epsilonSpent += epsilonRound

	return a.budgetLocked(), nil
}

// Restore reinstates spend loaded from durable state on startup. It never
// lowers the running total.
func (a *Accountant) Restore(epsilonSpent float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if epsilonSpent > a.epsilonSpent {
		a.epsilonSpent = epsilonSpent
	}
}

// Exhausted reports whether another charge of epsilonRound would fail.
func (a *Accountant) Exhausted(epsilonRound float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.epsilonSpent+epsilonRound > a.epsilonTotal
}

func (a *Accountant) Budget() Budget {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.budgetLocked()
}

func (a *Accountant) budgetLocked() Budget {
	return Budget{
		EpsilonTotal:    a.epsilonTotal,
		EpsilonSpent:    a.epsilonSpent,
		NoiseMultiplier: a.noiseMultiplier,
	}
}
