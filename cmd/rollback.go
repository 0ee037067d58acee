package cmd

import (
	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Remove every stage after the given one",
		Long: `Removes the stages that come after --to in the plan, newest first, and waits
for their instances to disappear. Without --to every stage is removed.
Persistent volumes are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, plan, err := setup(0)
			if err != nil {
				return err
			}
			orch, err := newOrchestrator(cfg)
			if err != nil {
				return err
			}
			report, runErr := orch.RollbackTo(cmd.Context(), plan, to)
			return finish(cmd, cfg, report, runErr)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Keep this stage and everything before it")
	return cmd
}
