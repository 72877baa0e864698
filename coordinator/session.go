package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/metrics"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
)

// Start launches the round loop. It returns ErrSessionActive when a loop is
// already running and privacy.ErrBudgetExhausted when the session's budget
// cannot fund a single further round.
func (svc *service) Start(ctx context.Context) error {
	svc.sessionMu.Lock()
	defer svc.sessionMu.Unlock()

	if svc.running {
		return ErrSessionActive
	}
	if svc.accountant != nil && svc.accountant.Exhausted(svc.cfg.EpsilonRound) {
		return privacy.ErrBudgetExhausted
	}
	if svc.stalled {
		svc.logger.InfoContext(ctx, "restarting after stall",
			"consecutive_failures", svc.consecFailure)
	}

	svc.running = true
	svc.stalled = false
	svc.consecFailure = 0
	svc.stopCh = make(chan struct{})
	svc.doneCh = make(chan struct{})
	svc.publisher.SetHalted(nil)
	svc.publisher.SetTrainingActive(true)

	go svc.loop(context.WithoutCancel(ctx), svc.stopCh, svc.doneCh)

	svc.logger.InfoContext(ctx, "training session started",
		"mode", svc.cfg.Mode,
		"policy", svc.cfg.Policy.Policy,
		"target_fraction", svc.cfg.TargetFraction,
		"round_timeout", svc.cfg.RoundTimeout)

	return nil
}

// Stop halts the loop. An in-flight round is allowed to finish; no new round
// starts afterwards. Stopping an idle coordinator is a no-op.
func (svc *service) Stop(ctx context.Context) error {
	svc.sessionMu.Lock()
	if !svc.running {
		svc.sessionMu.Unlock()

		return nil
	}
	close(svc.stopCh)
	done := svc.doneCh
	svc.sessionMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	svc.logger.InfoContext(ctx, "training session stopped")

	return nil
}

func (svc *service) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	// The flag is published inside the critical section so a Start racing
	// this teardown cannot have its training_active=true overwritten.
	defer func() {
		svc.sessionMu.Lock()
		svc.running = false
		svc.publisher.SetTrainingActive(false)
		svc.sessionMu.Unlock()
		close(doneCh)
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if svc.accountant != nil && svc.accountant.Exhausted(svc.cfg.EpsilonRound) {
			svc.publisher.SetHalted(privacy.ErrBudgetExhausted)
			svc.logger.WarnContext(ctx, "privacy budget exhausted, terminating session",
				"epsilon_spent", svc.accountant.Budget().EpsilonSpent,
				"epsilon_total", svc.accountant.Budget().EpsilonTotal)

			return
		}

		err := svc.runRound(ctx, stopCh)
		switch {
		case err == nil:
			svc.consecFailure = 0
			if !svc.sleep(stopCh, svc.cfg.RoundInterval) {
				return
			}
		case errors.Is(err, errStopRequested):
			return
		default:
			svc.consecFailure++
			svc.publisher.RecordFailedRound()
			svc.logger.WarnContext(ctx, "round failed",
				"error", err,
				"consecutive_failures", svc.consecFailure)
			if svc.consecFailure >= svc.cfg.MaxConsecutiveFailures {
				svc.sessionMu.Lock()
				svc.stalled = true
				svc.sessionMu.Unlock()
				svc.publisher.SetHalted(ErrTrainingStalled)
				svc.logger.ErrorContext(ctx, "training stalled, halting automatic retry",
					"consecutive_failures", svc.consecFailure)

				return
			}
			if !svc.sleep(stopCh, svc.cfg.RetryBackoff) {
				return
			}
		}
	}
}

func (svc *service) sleep(stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}

var errStopRequested = errors.New("stop requested")

// runRound drives one full cycle. Any failure marks the round Failed and the
// global model version stays put.
func (svc *service) runRound(ctx context.Context, stopCh <-chan struct{}) error {
	svc.roundMu.Lock()
	svc.roundSeq++
	round := &Round{
		ID:        svc.roundSeq,
		State:     RoundStateSelecting,
		StartedAt: time.Now(),
	}
	svc.current = round
	svc.quorumCh = make(chan struct{}, 1)
	svc.roundMu.Unlock()

	err := svc.advanceRound(ctx, round, stopCh)
	if err != nil && !errors.Is(err, errStopRequested) {
		svc.failRound(ctx, round, err)
	}

	return err
}

func (svc *service) advanceRound(ctx context.Context, round *Round, stopCh <-chan struct{}) error {
	selected, err := svc.registry.SelectParticipants(ctx, round.ID, svc.cfg.TargetFraction, svc.cfg.MinClients, svc.cfg.Seed)
	if err != nil {
		return fmt.Errorf("round %d selection: %w", round.ID, err)
	}

	svc.roundMu.Lock()
	round.Selected = selected
	transErr := round.transition(RoundStateBroadcasting)
	svc.roundMu.Unlock()
	if transErr != nil {
		return transErr
	}

	svc.logger.InfoContext(ctx, "participants selected",
		"round_id", round.ID,
		"selected", len(selected))

	model := svc.CurrentModel()
	if svc.broadcaster != nil {
		if err := svc.broadcaster.BroadcastModel(ctx, *round, model); err != nil {
			return fmt.Errorf("round %d broadcast: %w", round.ID, err)
		}
	}

	svc.roundMu.Lock()
	round.Deadline = time.Now().Add(svc.cfg.RoundTimeout)
	transErr = round.transition(RoundStateCollecting)
	quorumCh := svc.quorumCh
	svc.roundMu.Unlock()
	if transErr != nil {
		return transErr
	}

	if err := svc.collect(round, quorumCh, stopCh); err != nil {
		return err
	}

	svc.roundMu.Lock()
	transErr = round.transition(RoundStateAggregating)
	updates := make([]fl.ModelUpdate, len(round.Received))
	copy(updates, round.Received)
	svc.roundMu.Unlock()
	if transErr != nil {
		return transErr
	}

	required := int(svc.cfg.MinRequiredFraction * float64(len(round.Selected)))
	if float64(len(updates)) < svc.cfg.MinRequiredFraction*float64(len(round.Selected)) {
		return fmt.Errorf("round %d quorum not met: got %d of %d required from %d selected",
			round.ID, len(updates), required, len(round.Selected))
	}

	return svc.aggregate(ctx, round, updates, model)
}

// collect waits until every selected client has submitted, the deadline
// passes, or the session is stopped. A stop during collection abandons the
// round without counting it as a failure.
func (svc *service) collect(round *Round, quorumCh <-chan struct{}, stopCh <-chan struct{}) error {
	timer := time.NewTimer(time.Until(round.Deadline))
	defer timer.Stop()

	select {
	case <-quorumCh:
		return nil
	case <-timer.C:
		return nil
	case <-stopCh:
		svc.roundMu.Lock()
		round.State = RoundStateFailed
		round.Error = "session stopped during collection"
		svc.current = nil
		svc.roundMu.Unlock()

		return errStopRequested
	}
}

func (svc *service) aggregate(ctx context.Context, round *Round, updates []fl.ModelUpdate, base fl.GlobalModel) error {
	budget := privacy.Budget{}
	if svc.accountant != nil && svc.cfg.Mode != privacy.ModeOff {
		charged, err := svc.accountant.Charge(svc.cfg.EpsilonRound)
		if err != nil {
			return fmt.Errorf("round %d: %w", round.ID, err)
		}
		budget = charged
	}

	if svc.sanitizer != nil && svc.cfg.Mode == privacy.ModeCentral {
		for i := range updates {
			updates[i] = svc.sanitizer.Apply(updates[i])
		}
	}

	next, err := svc.aggregator.Aggregate(updates, base)
	if err != nil {
		return fmt.Errorf("round %d aggregation: %w", round.ID, err)
	}

	svc.modelMu.Lock()
	svc.model = next
	svc.modelMu.Unlock()

	svc.roundMu.Lock()
	if err := round.transition(RoundStateCompleted); err != nil {
		svc.roundMu.Unlock()

		return err
	}
	round.ResultVersion = next.Version
	svc.current = nil
	svc.roundMu.Unlock()

	var lossSum, accSum float64
	for _, u := range updates {
		lossSum += u.LocalLoss
		accSum += u.LocalAccuracy
	}
	n := float64(len(updates))

	active, err := svc.registry.ActiveCount(ctx)
	if err != nil {
		svc.logger.WarnContext(ctx, "failed to count active clients", "error", err)
	}

	svc.publisher.RecordRound(metrics.RoundResult{
		Round:         round.ID,
		ModelVersion:  next.Version,
		AvgAccuracy:   accSum / n,
		AvgLoss:       lossSum / n,
		Participants:  len(updates),
		ActiveClients: active,
		EpsilonSpent:  budget.EpsilonSpent,
		Duration:      time.Since(round.StartedAt),
	})
	svc.emitRoundCompleted(svc.publisher.Snapshot())

	if svc.store != nil {
		if err := svc.store.SaveModel(ctx, next); err != nil {
			svc.logger.ErrorContext(ctx, "failed to persist model", "version", next.Version, "error", err)
		}
		if err := svc.store.SaveRound(ctx, *round); err != nil {
			svc.logger.ErrorContext(ctx, "failed to persist round", "round_id", round.ID, "error", err)
		}
		if svc.accountant != nil {
			if err := svc.store.SaveBudget(ctx, svc.accountant.Budget()); err != nil {
				svc.logger.ErrorContext(ctx, "failed to persist budget", "error", err)
			}
		}
	}

	svc.logger.InfoContext(ctx, "round completed",
		"round_id", round.ID,
		"model_version", next.Version,
		"participants", len(updates),
		"avg_loss", lossSum/n,
		"avg_accuracy", accSum/n)

	return nil
}

func (svc *service) failRound(ctx context.Context, round *Round, cause error) {
	svc.roundMu.Lock()
	if !round.Terminal() {
		round.State = RoundStateFailed
		round.Error = cause.Error()
	}
	svc.current = nil
	svc.roundMu.Unlock()

	if svc.store != nil {
		if err := svc.store.SaveRound(ctx, *round); err != nil {
			svc.logger.ErrorContext(ctx, "failed to persist failed round", "round_id", round.ID, "error", err)
		}
	}
}
