package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the read-side projection consumed by the dashboard. It always
// reflects the last completed round, never an in-flight one.
type Snapshot struct {
	Mode            string    `json:"mode"`
	Strategy        string    `json:"strategy"`
	CurrentRound    uint64    `json:"current_round"`
	ModelVersion    uint64    `json:"model_version"`
	GlobalAccuracy  float64   `json:"global_accuracy"`
	ActiveClients   int       `json:"active_clients"`
	ConvergenceRate float64   `json:"convergence_rate"`
	EpsilonSpent    float64   `json:"epsilon_spent"`
	EpsilonTotal    float64   `json:"epsilon_total"`
	TrainingActive  bool      `json:"training_active"`
	HaltReason      string    `json:"halt_reason,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RoundResult is what the coordinator reports when a round completes.
type RoundResult struct {
	Round         uint64
	ModelVersion  uint64
	AvgAccuracy   float64
	AvgLoss       float64
	Participants  int
	ActiveClients int
	EpsilonSpent  float64
	Duration      time.Duration
}

// Publisher derives and publishes dashboard metrics. Reads are lock-free:
// Snapshot loads an atomic pointer and never blocks round progression.
type Publisher struct {
	window    int
	smoothing float64

	mu         sync.Mutex
	losses     []float64
	ewmaRate   float64
	haveRate   bool
	current    Snapshot
	trainingOn bool

	snap atomic.Pointer[Snapshot]
}

func NewPublisher(mode, strategy string, epsilonTotal float64, window int, smoothing float64) *Publisher {
	if window <= 0 {
		window = 10
	}
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 0.3
	}

	p := &Publisher{
		window:    window,
		smoothing: smoothing,
		current: Snapshot{
			Mode:         mode,
			Strategy:     strategy,
			EpsilonTotal: epsilonTotal,
			UpdatedAt:    time.Now(),
		},
	}
	p.publishLocked()

	return p
}

// Snapshot returns the last published projection. Safe for concurrent use
// and callable mid-round.
func (p *Publisher) Snapshot() Snapshot {
	return *p.snap.Load()
}

// RecordRound folds a completed round into the projection.
func (p *Publisher) RecordRound(res RoundResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.losses = append(p.losses, res.AvgLoss)
	if len(p.losses) > p.window {
		p.losses = p.losses[len(p.losses)-p.window:]
	}
	if n := len(p.losses); n >= 2 {
		decrease := p.losses[n-2] - p.losses[n-1]
		if p.haveRate {
			p.ewmaRate = p.smoothing*decrease + (1-p.smoothing)*p.ewmaRate
		} else {
			p.ewmaRate = decrease
			p.haveRate = true
		}
	}

	p.current.CurrentRound = res.Round
	p.current.ModelVersion = res.ModelVersion
	p.current.GlobalAccuracy = res.AvgAccuracy
	p.current.ActiveClients = res.ActiveClients
	p.current.ConvergenceRate = p.ewmaRate
	p.current.EpsilonSpent = res.EpsilonSpent
	p.current.UpdatedAt = time.Now()
	p.publishLocked()

	roundDuration.Observe(res.Duration.Seconds())
	roundTotal.WithLabelValues(outcomeCompleted).Inc()
	globalAccuracy.Set(res.AvgAccuracy)
	modelVersion.Set(float64(res.ModelVersion))
	epsilonSpent.Set(res.EpsilonSpent)
	activeClients.Set(float64(res.ActiveClients))
}

// RecordFailedRound counts a failed round without touching model metrics.
func (p *Publisher) RecordFailedRound() {
	roundTotal.WithLabelValues(outcomeFailed).Inc()
}

// SetTrainingActive flips the training flag. Degraded states (stall, budget
// exhaustion) surface here as training_active=false rather than stale
// optimistic values.
func (p *Publisher) SetTrainingActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trainingOn = active
	p.current.TrainingActive = active
	p.current.UpdatedAt = time.Now()
	p.publishLocked()
}

// SetHalted records why the round loop stopped on its own, distinguishing a
// stall or exhausted budget from an operator stop. A nil cause clears it.
func (p *Publisher) SetHalted(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cause != nil {
		p.current.HaltReason = cause.Error()
	} else {
		p.current.HaltReason = ""
	}
	p.current.UpdatedAt = time.Now()
	p.publishLocked()
}

// SetActiveClients refreshes the live client count outside round boundaries.
func (p *Publisher) SetActiveClients(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current.ActiveClients = n
	p.current.UpdatedAt = time.Now()
	p.publishLocked()

	activeClients.Set(float64(n))
}

// SetEpsilonSpent refreshes budget spend, used when resuming persisted state.
func (p *Publisher) SetEpsilonSpent(spent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current.EpsilonSpent = spent
	p.current.UpdatedAt = time.Now()
	p.publishLocked()

	epsilonSpent.Set(spent)
}

// SetModelVersion refreshes the model version, used when resuming.
func (p *Publisher) SetModelVersion(version uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current.ModelVersion = version
	p.current.UpdatedAt = time.Now()
	p.publishLocked()

	modelVersion.Set(float64(version))
}

func (p *Publisher) publishLocked() {
	snap := p.current
	p.snap.Store(&snap)
}
