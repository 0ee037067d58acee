package cmd

import (
	"github.com/spf13/cobra"

	"stackctl/internal/mcpserver"
	"stackctl/internal/orchestrator"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the plan and run history over MCP on stdio",
		Long: `Starts a Model Context Protocol server on stdin and stdout. It exposes the
deployment plan and the recorded run history of the target as read-only
tools. Nothing is deployed or removed through it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return &ExitError{Code: exitInvalidPlan, Err: err}
			}
			target, err := resolveTarget(cfg)
			if err != nil {
				return err
			}
			plan := func() (*orchestrator.Plan, error) {
				return loadPlan(cfg, 0)
			}
			return mcpserver.New(rootCmd.Version, target, plan, newHistoryStore(cfg)).ServeStdio()
		},
	}
}
