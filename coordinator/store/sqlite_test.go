package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/coordinator"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestEmptyStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.LoadLatestModel(ctx); !errors.Is(err, coordinator.ErrNoPersistedState) {
		t.Errorf("expected ErrNoPersistedState, got %v", err)
	}
	if _, err := s.LastRoundID(ctx); !errors.Is(err, coordinator.ErrNoPersistedState) {
		t.Errorf("expected ErrNoPersistedState, got %v", err)
	}
	if _, err := s.LoadBudget(ctx); !errors.Is(err, coordinator.ErrNoPersistedState) {
		t.Errorf("expected ErrNoPersistedState, got %v", err)
	}
}

func TestModelRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for v := uint64(1); v <= 3; v++ {
		model := fl.GlobalModel{
			Version:    v,
			Parameters: []float64{float64(v), float64(v) * 2},
			CreatedAt:  time.Now(),
		}
		if err := s.SaveModel(ctx, model); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	latest, err := s.LoadLatestModel(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.Version != 3 {
		t.Errorf("expected latest version 3, got %d", latest.Version)
	}

	second, err := s.LoadModel(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Parameters[1] != 4 {
		t.Errorf("expected parameter 4, got %v", second.Parameters[1])
	}

	versions, err := s.ListModelVersions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[2] != 3 {
		t.Errorf("unexpected versions %v", versions)
	}
}

func TestRoundRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rounds := []coordinator.Round{
		{ID: 1, State: coordinator.RoundStateCompleted, Selected: []string{"a", "b"}, StartedAt: time.Now(), ResultVersion: 1},
		{ID: 2, State: coordinator.RoundStateFailed, Selected: []string{"a"}, StartedAt: time.Now(), Error: "quorum not met"},
	}
	for _, r := range rounds {
		if err := s.SaveRound(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	last, err := s.LastRoundID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != 2 {
		t.Errorf("expected last round 2, got %d", last)
	}

	listed, err := s.ListRounds(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(listed))
	}
	// Newest first.
	if listed[0].ID != 2 || listed[0].State != coordinator.RoundStateFailed {
		t.Errorf("unexpected round %+v", listed[0])
	}
	if listed[1].Selected[1] != "b" {
		t.Errorf("unexpected participants %v", listed[1].Selected)
	}
}

func TestBudgetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	budget := privacy.Budget{EpsilonTotal: 1.0, EpsilonSpent: 0.3, NoiseMultiplier: 1.1}
	if err := s.SaveBudget(ctx, budget); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	budget.EpsilonSpent = 0.4
	if err := s.SaveBudget(ctx, budget); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := s.LoadBudget(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.EpsilonSpent != 0.4 || loaded.EpsilonTotal != 1.0 {
		t.Errorf("unexpected budget %+v", loaded)
	}
}
