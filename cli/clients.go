package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clientsCmd = []cobra.Command{
	{
		Use:   "list",
		Short: "List registered clients",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			offset, _ := cmd.Flags().GetUint64("offset")
			limit, _ := cmd.Flags().GetUint64("limit")

			var page map[string]any
			path := fmt.Sprintf("/clients?offset=%d&limit=%d", offset, limit)
			if err := getJSON(path, &page); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logJSONCmd(*cmd, page)
		},
	},
	{
		Use:   "register <client_id> <dataset_size>",
		Short: "Register a client over HTTP",
		Long:  ``,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			var datasetSize uint64
			if _, err := fmt.Sscanf(args[1], "%d", &datasetSize); err != nil {
				logErrorCmd(*cmd, fmt.Errorf("invalid dataset size %q", args[1]))

				return
			}

			body := map[string]any{
				"client_id":    args[0],
				"dataset_size": datasetSize,
			}
			var res map[string]any
			if err := postJSON("/clients/register", body, &res); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logJSONCmd(*cmd, res)
		},
	},
	{
		Use:   "heartbeat <client_id>",
		Short: "Send a heartbeat for a client",
		Long:  ``,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var client map[string]any
			if err := postJSON("/clients/"+args[0]+"/heartbeat", nil, &client); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			logJSONCmd(*cmd, client)
		},
	},
}

func NewClientsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "clients",
		Short: "Client registry inspection",
		Long:  ``,
	}

	for i := range clientsCmd {
		cmd.AddCommand(&clientsCmd[i])
	}

	listCmd := &clientsCmd[0]
	listCmd.Flags().Uint64P("offset", "o", 0, "Pagination offset")
	listCmd.Flags().Uint64P("limit", "l", 100, "Pagination limit")

	return &cmd
}
