package cli

import (
	"github.com/spf13/cobra"
)

var sessionCmd = []cobra.Command{
	{
		Use:   "status",
		Short: "Show the training session status",
		Long:  `Fetches the live snapshot: round, accuracy, active clients, budget and convergence.`,
		Run: func(cmd *cobra.Command, args []string) {
			var snapshot map[string]any
			if err := getJSON("/status", &snapshot); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logJSONCmd(*cmd, snapshot)
		},
	},
	{
		Use:   "start",
		Short: "Start the training session",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			var state map[string]any
			if err := postJSON("/start", nil, &state); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logOKCmd(*cmd, "training session started")
		},
	},
	{
		Use:   "stop",
		Short: "Stop the training session",
		Long:  `The in-flight round is allowed to finish; no new round starts afterwards.`,
		Run: func(cmd *cobra.Command, args []string) {
			var state map[string]any
			if err := postJSON("/stop", nil, &state); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logOKCmd(*cmd, "training session stopped")
		},
	},
	{
		Use:   "rounds",
		Short: "List recent rounds",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			var rounds []map[string]any
			if err := getJSON("/rounds", &rounds); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logJSONCmd(*cmd, rounds)
		},
	},
}

func NewSessionCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "session",
		Short: "Training session control",
		Long:  ``,
	}

	for i := range sessionCmd {
		cmd.AddCommand(&sessionCmd[i])
	}

	cmd.AddCommand(NewProvisionCmd())

	return &cmd
}
