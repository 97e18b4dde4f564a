package cmd

import (
	"github.com/ajaxbridge/ajaxbridge/core/scripting"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [script.js]",
	Short: "Run a JavaScript file with the ajax API available",
	Long: `Run a JavaScript file with the ajax API available.
The command returns once the script and every request it started have finished.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		return scripting.New(b.client).RunFile(cmd.Context(), args[0])
	},
}
