package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/metrics"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
	"github.com/Abhishek-yadav04/agis-flow-test/registry"
)

// Config is the per-session coordination configuration.
type Config struct {
	ModelDimension         int
	TargetFraction         float64
	MinClients             int
	MinRequiredFraction    float64
	RoundTimeout           time.Duration
	RoundInterval          time.Duration
	RetryBackoff           time.Duration
	MaxConsecutiveFailures int
	Seed                   int64
	EpsilonRound           float64
	Mode                   string
	Policy                 fl.PolicyConfig
}

// DefaultConfig mirrors the NSL-KDD intrusion-detection deployment defaults.
func DefaultConfig() Config {
	return Config{
		ModelDimension:         41,
		TargetFraction:         0.8,
		MinClients:             2,
		MinRequiredFraction:    0.6,
		RoundTimeout:           60 * time.Second,
		RoundInterval:          30 * time.Second,
		RetryBackoff:           10 * time.Second,
		MaxConsecutiveFailures: 5,
		EpsilonRound:           0.1,
		Mode:                   privacy.ModeCentral,
		Policy:                 fl.PolicyConfig{Policy: fl.PolicyFedAvg},
	}
}

func (c *Config) Validate() error {
	if c.ModelDimension <= 0 {
		return fmt.Errorf("model dimension %d must be positive", c.ModelDimension)
	}
	if c.TargetFraction <= 0 || c.TargetFraction > 1 {
		return fmt.Errorf("target fraction %v out of range (0, 1]", c.TargetFraction)
	}
	if c.MinClients < 1 {
		return fmt.Errorf("min clients %d must be at least 1", c.MinClients)
	}
	if c.MinRequiredFraction <= 0 || c.MinRequiredFraction > 1 {
		return fmt.Errorf("min required fraction %v out of range (0, 1]", c.MinRequiredFraction)
	}
	if c.RoundTimeout <= 0 {
		return fmt.Errorf("round timeout must be positive")
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max consecutive failures %d must be at least 1", c.MaxConsecutiveFailures)
	}

	return nil
}

// StateStore persists global model history, round records and budget spend so
// a session can resume after restart.
type StateStore interface {
	SaveModel(ctx context.Context, model fl.GlobalModel) error
	LoadModel(ctx context.Context, version uint64) (fl.GlobalModel, error)
	LoadLatestModel(ctx context.Context) (fl.GlobalModel, error)
	ListModelVersions(ctx context.Context) ([]uint64, error)
	SaveRound(ctx context.Context, round Round) error
	ListRounds(ctx context.Context, limit uint64) ([]Round, error)
	LastRoundID(ctx context.Context) (uint64, error)
	SaveBudget(ctx context.Context, budget privacy.Budget) error
	LoadBudget(ctx context.Context) (privacy.Budget, error)
}

// Broadcaster delivers the current global model to a round's participants.
// Client communication is entirely the transport's responsibility.
type Broadcaster interface {
	BroadcastModel(ctx context.Context, round Round, model fl.GlobalModel) error
}

// EventSink receives one event per completed round, carrying the same fields
// as the status endpoint.
type EventSink interface {
	RoundCompleted(snapshot metrics.Snapshot)
}

// Service drives the training session: it owns the round loop and is the
// single writer of the global model.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SubmitUpdate(ctx context.Context, update fl.ModelUpdate) error
	Snapshot() metrics.Snapshot
	CurrentModel() fl.GlobalModel
	Model(ctx context.Context, version uint64) (fl.GlobalModel, error)
	Rounds(ctx context.Context, limit uint64) ([]Round, error)
	AddEventSink(sink EventSink)
}

type service struct {
	cfg         Config
	registry    *registry.Service
	aggregator  fl.Aggregator
	sanitizer   *privacy.Sanitizer
	accountant  *privacy.Accountant
	store       StateStore
	publisher   *metrics.Publisher
	broadcaster Broadcaster
	logger      *slog.Logger

	sinkMu sync.RWMutex
	sinks  []EventSink

	modelMu sync.RWMutex
	model   fl.GlobalModel

	roundMu  sync.Mutex
	current  *Round
	quorumCh chan struct{}
	roundSeq uint64

	sessionMu     sync.Mutex
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	stalled       bool
	consecFailure int
}

// NewService builds the coordinator and, when a state store is configured,
// resumes model version, round sequence and budget spend from it.
func NewService(
	cfg Config,
	reg *registry.Service,
	aggregator fl.Aggregator,
	sanitizer *privacy.Sanitizer,
	accountant *privacy.Accountant,
	store StateStore,
	publisher *metrics.Publisher,
	broadcaster Broadcaster,
	logger *slog.Logger,
) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := &service{
		cfg:         cfg,
		registry:    reg,
		aggregator:  aggregator,
		sanitizer:   sanitizer,
		accountant:  accountant,
		store:       store,
		publisher:   publisher,
		broadcaster: broadcaster,
		logger:      logger,
		model: fl.GlobalModel{
			Version:    0,
			Parameters: make([]float64, cfg.ModelDimension),
			CreatedAt:  time.Now(),
		},
	}

	if store != nil {
		if err := svc.resume(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to resume persisted session: %w", err)
		}
	}

	return svc, nil
}

func (svc *service) resume(ctx context.Context) error {
	model, err := svc.store.LoadLatestModel(ctx)
	switch {
	case err == nil:
		svc.model = model
		svc.publisher.SetModelVersion(model.Version)
		svc.logger.InfoContext(ctx, "resumed global model", "version", model.Version)
	case errors.Is(err, ErrNoPersistedState):
	default:
		return err
	}

	lastRound, err := svc.store.LastRoundID(ctx)
	switch {
	case err == nil:
		svc.roundSeq = lastRound
	case errors.Is(err, ErrNoPersistedState):
	default:
		return err
	}

	budget, err := svc.store.LoadBudget(ctx)
	switch {
	case err == nil:
		svc.accountant.Restore(budget.EpsilonSpent)
		svc.publisher.SetEpsilonSpent(budget.EpsilonSpent)
		svc.logger.InfoContext(ctx, "resumed privacy budget", "epsilon_spent", budget.EpsilonSpent)
	case errors.Is(err, ErrNoPersistedState):
	default:
		return err
	}

	return nil
}

// ErrNoPersistedState indicates an empty state store; resumption starts fresh.
var ErrNoPersistedState = errors.New("no persisted state")

func (svc *service) AddEventSink(sink EventSink) {
	svc.sinkMu.Lock()
	svc.sinks = append(svc.sinks, sink)
	svc.sinkMu.Unlock()
}

func (svc *service) emitRoundCompleted(snapshot metrics.Snapshot) {
	svc.sinkMu.RLock()
	sinks := make([]EventSink, len(svc.sinks))
	copy(sinks, svc.sinks)
	svc.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink.RoundCompleted(snapshot)
	}
}

func (svc *service) Snapshot() metrics.Snapshot {
	return svc.publisher.Snapshot()
}

func (svc *service) CurrentModel() fl.GlobalModel {
	svc.modelMu.RLock()
	defer svc.modelMu.RUnlock()

	return svc.model.Clone()
}

func (svc *service) Model(ctx context.Context, version uint64) (fl.GlobalModel, error) {
	current := svc.CurrentModel()
	if version == current.Version {
		return current, nil
	}
	if svc.store == nil {
		return fl.GlobalModel{}, ErrNoPersistedState
	}

	return svc.store.LoadModel(ctx, version)
}

func (svc *service) Rounds(ctx context.Context, limit uint64) ([]Round, error) {
	if svc.store == nil {
		return nil, nil
	}

	return svc.store.ListRounds(ctx, limit)
}

// SubmitUpdate records one client's round contribution. It is safe for
// concurrent invocation; late, duplicate, unselected and mis-dimensioned
// submissions are rejected without failing the round.
func (svc *service) SubmitUpdate(ctx context.Context, update fl.ModelUpdate) error {
	svc.roundMu.Lock()
	defer svc.roundMu.Unlock()

	round := svc.current
	if round == nil {
		metrics.UpdateTotal.WithLabelValues("rejected_no_round").Inc()

		return ErrRoundNotOpen
	}
	if update.RoundID != round.ID || round.Terminal() {
		metrics.UpdateTotal.WithLabelValues("rejected_expired").Inc()

		return fmt.Errorf("round %d: %w", update.RoundID, ErrRoundExpired)
	}
	if round.State != RoundStateCollecting {
		metrics.UpdateTotal.WithLabelValues("rejected_not_collecting").Inc()

		return ErrRoundNotOpen
	}
	if time.Now().After(round.Deadline) {
		metrics.UpdateTotal.WithLabelValues("rejected_late").Inc()

		return fmt.Errorf("round %d client %s: %w", round.ID, update.ClientID, ErrRoundExpired)
	}
	if !round.IsSelected(update.ClientID) {
		metrics.UpdateTotal.WithLabelValues("rejected_not_selected").Inc()

		return fmt.Errorf("round %d client %s: %w", round.ID, update.ClientID, ErrNotSelected)
	}
	if round.HasUpdateFrom(update.ClientID) {
		metrics.UpdateTotal.WithLabelValues("rejected_duplicate").Inc()

		return fmt.Errorf("round %d client %s: %w", round.ID, update.ClientID, ErrDuplicateUpdate)
	}
	if len(update.Parameters) != svc.cfg.ModelDimension {
		metrics.UpdateTotal.WithLabelValues("rejected_dimension").Inc()

		return fmt.Errorf("round %d client %s: %w", round.ID, update.ClientID, fl.ErrDimensionMismatch)
	}

	update.ReceivedAt = time.Now()
	round.Received = append(round.Received, update)
	metrics.UpdateTotal.WithLabelValues("accepted").Inc()

	if err := svc.registry.RecordAccuracy(ctx, update.ClientID, update.LocalAccuracy); err != nil {
		svc.logger.WarnContext(ctx, "failed to record client accuracy", "client_id", update.ClientID, "error", err)
	}

	svc.logger.InfoContext(ctx, "update received",
		"round_id", round.ID,
		"client_id", update.ClientID,
		"received", len(round.Received),
		"selected", len(round.Selected))

	if len(round.Received) == len(round.Selected) {
		select {
		case svc.quorumCh <- struct{}{}:
		default:
		}
	}

	return nil
}
