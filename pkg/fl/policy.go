package fl

import "fmt"

// Aggregation policy names accepted in session configuration.
const (
	PolicyFedAvg      = "fedavg"
	PolicyTrimmedMean = "trimmed_mean"
	PolicyKrum        = "krum"
)

// PolicyConfig carries the per-session aggregation policy parameters.
type PolicyConfig struct {
	Policy         string  `toml:"policy"          json:"policy"`
	TrimFraction   float64 `toml:"trim_fraction"   json:"trim_fraction"`
	ByzantineCount int     `toml:"byzantine_count" json:"byzantine_count"`
}

// NewAggregatorForPolicy builds the aggregator selected by a session config.
func NewAggregatorForPolicy(cfg PolicyConfig) (Aggregator, error) {
	switch cfg.Policy {
	case "", PolicyFedAvg:
		return NewFedAvgAggregator(), nil
	case PolicyTrimmedMean:
		return NewTrimmedMeanAggregator(cfg.TrimFraction)
	case PolicyKrum:
		return NewKrumAggregator(cfg.ByzantineCount)
	default:
		return nil, fmt.Errorf("unknown aggregation policy %q", cfg.Policy)
	}
}
