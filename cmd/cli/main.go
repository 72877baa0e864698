package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Abhishek-yadav04/agis-flow-test/cli"
)

func main() {
	var url string

	rootCmd := &cobra.Command{
		Use:   "agisflow-cli",
		Short: "Federated aggregation coordinator CLI",
		Long:  `Inspect and control a running coordinator over its HTTP API.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.SetCoordinatorURL(url)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Coordinator base URL")

	rootCmd.AddCommand(cli.NewSessionCmd())
	rootCmd.AddCommand(cli.NewClientsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
