package fl

import (
	"errors"
	"math"
	"testing"
)

func TestTrimmedMeanAggregate(t *testing.T) {
	base := GlobalModel{Version: 0, Parameters: []float64{0}}

	agg, err := NewTrimmedMeanAggregator(0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Five clients, one poisoned outlier at each end. With a 0.2 trim, one
	// value is dropped per side and the surviving three are averaged.
	updates := []ModelUpdate{
		{ClientID: "c1", NumSamples: 10, Parameters: []float64{-100.0}},
		{ClientID: "c2", NumSamples: 10, Parameters: []float64{1.0}},
		{ClientID: "c3", NumSamples: 10, Parameters: []float64{2.0}},
		{ClientID: "c4", NumSamples: 10, Parameters: []float64{3.0}},
		{ClientID: "c5", NumSamples: 10, Parameters: []float64{100.0}},
	}

	result, err := agg.Aggregate(updates, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(result.Parameters[0]-2.0) > 1e-9 {
		t.Errorf("expected trimmed mean 2.0, got %v", result.Parameters[0])
	}
}

func TestTrimmedMeanRejectsOverTrim(t *testing.T) {
	agg, err := NewTrimmedMeanAggregator(0.4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updates := []ModelUpdate{
		{ClientID: "c1", NumSamples: 1, Parameters: []float64{1.0}},
		{ClientID: "c2", NumSamples: 1, Parameters: []float64{2.0}},
	}
	// k = floor(0.4*2) = 0, so the batch survives with both values.
	result, err := agg.Aggregate(updates, GlobalModel{Parameters: []float64{0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(result.Parameters[0]-1.5) > 1e-9 {
		t.Errorf("expected 1.5, got %v", result.Parameters[0])
	}

	if _, err := NewTrimmedMeanAggregator(0.5); err == nil {
		t.Error("expected error for trim fraction 0.5")
	}
}

func TestKrumSelectsMajorityUpdate(t *testing.T) {
	base := GlobalModel{Version: 2, Parameters: []float64{0, 0}}

	agg, err := NewKrumAggregator(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Four honest clients cluster near (1,1); one attacker sits far away.
	updates := []ModelUpdate{
		{ClientID: "c1", NumSamples: 10, Parameters: []float64{1.0, 1.0}},
		{ClientID: "c2", NumSamples: 10, Parameters: []float64{1.1, 0.9}},
		{ClientID: "attacker", NumSamples: 10, Parameters: []float64{50.0, -50.0}},
		{ClientID: "c3", NumSamples: 10, Parameters: []float64{0.9, 1.1}},
		{ClientID: "c4", NumSamples: 10, Parameters: []float64{1.05, 1.05}},
	}

	result, err := agg.Aggregate(updates, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(result.Parameters[0]) > 2 || math.Abs(result.Parameters[1]) > 2 {
		t.Errorf("krum selected an outlier update: %v", result.Parameters)
	}
	if result.Version != 3 {
		t.Errorf("expected version 3, got %d", result.Version)
	}
}

func TestKrumTooFewUpdates(t *testing.T) {
	agg, err := NewKrumAggregator(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updates := []ModelUpdate{
		{ClientID: "c1", NumSamples: 1, Parameters: []float64{1.0}},
		{ClientID: "c2", NumSamples: 1, Parameters: []float64{2.0}},
	}
	if _, err := agg.Aggregate(updates, GlobalModel{Parameters: []float64{0}}); !errors.Is(err, ErrTooFewUpdates) {
		t.Fatalf("expected ErrTooFewUpdates, got %v", err)
	}
}

func TestNewAggregatorForPolicy(t *testing.T) {
	tests := []struct {
		name      string
		cfg       PolicyConfig
		expectErr bool
	}{
		{name: "default fedavg", cfg: PolicyConfig{}},
		{name: "explicit fedavg", cfg: PolicyConfig{Policy: PolicyFedAvg}},
		{name: "trimmed mean", cfg: PolicyConfig{Policy: PolicyTrimmedMean, TrimFraction: 0.1}},
		{name: "krum", cfg: PolicyConfig{Policy: PolicyKrum, ByzantineCount: 1}},
		{name: "unknown", cfg: PolicyConfig{Policy: "median-of-means"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := NewAggregatorForPolicy(tt.cfg)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error")
				}

				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if agg == nil {
				t.Fatal("expected aggregator")
			}
		})
	}
}
