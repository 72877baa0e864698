package cli

import (
	"fmt"

	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
)

var errColor = color.New(color.FgRed)

func logJSONCmd(cmd cobra.Command, v any) {
	formatted, err := prettyjson.Marshal(v)
	if err != nil {
		logErrorCmd(cmd, err)

		return
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
}

func logErrorCmd(cmd cobra.Command, err error) {
	boldError := errColor.Sprintf("error: ")
	fmt.Fprintf(cmd.ErrOrStderr(), "%s%s\n\n", boldError, err.Error())
}

func logOKCmd(cmd cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "\nok: %s\n\n", msg)
}
