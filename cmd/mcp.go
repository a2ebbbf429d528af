package cmd

import (
	"github.com/spf13/cobra"

	"github.com/startupai/intake/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent tooling integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agent tooling query intake natively for sessions, briefs, and
queue state. Configure with:

  {
    "mcpServers": {
      "intake": { "command": "intake", "args": ["mcp"] }
    }
  }

Available tools: intake_list_sessions, intake_get_session, intake_get_brief,
intake_queue_stats, intake_requeue_item`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
