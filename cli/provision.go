package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	agisflow "github.com/Abhishek-yadav04/agis-flow-test"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
)

// NewProvisionCmd builds a session profile interactively and writes it as a
// TOML file the coordinator loads at startup.
func NewProvisionCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "init",
		Short: "Interactively create a session profile",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			output, _ := cmd.Flags().GetString("output")

			var (
				dimension  = "41"
				fraction   = "0.8"
				minim      = "2"
				quorum     = "0.6"
				policy     = fl.PolicyFedAvg
				mode       = privacy.ModeCentral
				epsilon    = "1.0"
				noiseMult  = "1.1"
				clipNorm   = "1.0"
				maskSecret string
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().Title("Model dimension").Value(&dimension),
					huh.NewInput().Title("Target participation fraction").Value(&fraction),
					huh.NewInput().Title("Minimum clients per round").Value(&minim),
					huh.NewInput().Title("Minimum required fraction (quorum)").Value(&quorum),
					huh.NewSelect[string]().
						Title("Aggregation policy").
						Options(
							huh.NewOption("FedAvg (sample-weighted mean)", fl.PolicyFedAvg),
							huh.NewOption("Coordinate-wise trimmed mean", fl.PolicyTrimmedMean),
							huh.NewOption("Krum", fl.PolicyKrum),
						).
						Value(&policy),
				),
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Privacy mode").
						Options(
							huh.NewOption("Off", privacy.ModeOff),
							huh.NewOption("Central DP (clip + noise)", privacy.ModeCentral),
							huh.NewOption("Secure aggregation (pairwise masking)", privacy.ModeSecure),
						).
						Value(&mode),
					huh.NewInput().Title("Total epsilon budget").Value(&epsilon),
					huh.NewInput().Title("Noise multiplier").Value(&noiseMult),
					huh.NewInput().Title("L2 clip norm").Value(&clipNorm),
					huh.NewInput().Title("Masking secret (secure mode only)").Value(&maskSecret),
				),
			)

			if err := form.Run(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			cfg, err := buildProfile(dimension, fraction, minim, quorum, policy, mode, epsilon, noiseMult, clipNorm, maskSecret)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if err := agisflow.SaveConfig(output, cfg); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logOKCmd(*cmd, fmt.Sprintf("session profile written to %s", output))
		},
	}

	cmd.Flags().StringP("output", "f", "agisflow.toml", "Profile output path")

	return &cmd
}

func buildProfile(dimension, fraction, minim, quorum, policy, mode, epsilon, noiseMult, clipNorm, maskSecret string) (*agisflow.Config, error) {
	dim, err := strconv.Atoi(dimension)
	if err != nil {
		return nil, fmt.Errorf("invalid model dimension %q", dimension)
	}
	frac, err := strconv.ParseFloat(fraction, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid target fraction %q", fraction)
	}
	minClients, err := strconv.Atoi(minim)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum clients %q", minim)
	}
	quorumFrac, err := strconv.ParseFloat(quorum, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid quorum fraction %q", quorum)
	}
	eps, err := strconv.ParseFloat(epsilon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid epsilon %q", epsilon)
	}
	noise, err := strconv.ParseFloat(noiseMult, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid noise multiplier %q", noiseMult)
	}
	clip, err := strconv.ParseFloat(clipNorm, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid clip norm %q", clipNorm)
	}
	if mode == privacy.ModeSecure && maskSecret == "" {
		return nil, fmt.Errorf("secure mode requires a masking secret")
	}

	return &agisflow.Config{
		Session: agisflow.SessionConfig{
			ModelDimension:         dim,
			TargetFraction:         frac,
			MinClients:             minClients,
			MinRequiredFraction:    quorumFrac,
			RoundTimeoutSeconds:    60,
			RoundIntervalSeconds:   30,
			RetryBackoffSeconds:    10,
			MaxConsecutiveFailures: 5,
			Policy:                 fl.PolicyConfig{Policy: policy},
		},
		Privacy: agisflow.PrivacyConfig{
			Mode:            mode,
			EpsilonTotal:    eps,
			EpsilonRound:    eps / 10,
			NoiseMultiplier: noise,
			ClipNorm:        clip,
			MaskSecret:      maskSecret,
		},
		Registry:    agisflow.RegistryConfig{StaleAfterSeconds: 180},
		Convergence: agisflow.ConvergenceConfig{Window: 10, Smoothing: 0.3},
	}, nil
}
