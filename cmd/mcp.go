package cmd

import (
	"github.com/ajaxbridge/ajaxbridge/core/mcptool"
	"github.com/ajaxbridge/ajaxbridge/log"
	mcp_golang "github.com/metoro-io/mcp-golang"
	"github.com/metoro-io/mcp-golang/transport/stdio"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the http_request tool over MCP on stdin/stdout",
	Long: `Serve the http_request tool over MCP on stdin/stdout.
Logs go to stderr (and the log file, if configured) so they do not mix with the protocol.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBridge(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		server := mcp_golang.NewServer(stdio.NewStdioServerTransport())
		if err := mcptool.New(b.client).Register(server); err != nil {
			return err
		}
		if err := server.Serve(); err != nil {
			return err
		}
		log.Info(ctx, "MCP server started", "tool", mcptool.ToolName)
		<-ctx.Done()
		log.Info(ctx, "MCP server stopping")
		return nil
	},
}
