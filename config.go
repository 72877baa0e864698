package agisflow

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
)

// Config is the TOML session profile consumed by the CLI and loadable by the
// coordinator at startup. Environment variables override transport addresses;
// the profile carries the training semantics.
type Config struct {
	Session     SessionConfig     `toml:"session"`
	Privacy     PrivacyConfig     `toml:"privacy"`
	Registry    RegistryConfig    `toml:"registry"`
	Convergence ConvergenceConfig `toml:"convergence"`
}

type SessionConfig struct {
	ModelDimension         int             `toml:"model_dimension"`
	TargetFraction         float64         `toml:"target_fraction"`
	MinClients             int             `toml:"min_clients"`
	MinRequiredFraction    float64         `toml:"min_required_fraction"`
	RoundTimeoutSeconds    int             `toml:"round_timeout_seconds"`
	RoundIntervalSeconds   int             `toml:"round_interval_seconds"`
	RetryBackoffSeconds    int             `toml:"retry_backoff_seconds"`
	MaxConsecutiveFailures int             `toml:"max_consecutive_failures"`
	Seed                   int64           `toml:"seed"`
	Policy                 fl.PolicyConfig `toml:"policy"`
}

type PrivacyConfig struct {
	Mode            string  `toml:"mode"`
	EpsilonTotal    float64 `toml:"epsilon_total"`
	EpsilonRound    float64 `toml:"epsilon_round"`
	NoiseMultiplier float64 `toml:"noise_multiplier"`
	ClipNorm        float64 `toml:"clip_norm"`
	MaskSecret      string  `toml:"mask_secret"`
}

type RegistryConfig struct {
	StaleAfterSeconds int `toml:"stale_after_seconds"`
}

type ConvergenceConfig struct {
	Window    int     `toml:"window"`
	Smoothing float64 `toml:"smoothing"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
