package cmd

import (
	"github.com/spf13/cobra"

	"stackctl/internal/orchestrator"
)

func newTeardownCmd() *cobra.Command {
	opts := orchestrator.TeardownOptions{}
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Remove the whole stack in reverse order",
		Long: `Removes every stage in reverse plan order, whatever state it is in.

Persistent volume claims are kept unless --include-data is given together
with --confirm-data-deletion. --include-data alone is refused before
anything is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, plan, err := setup(0)
			if err != nil {
				return err
			}
			if opts.IncludePersistentState && !opts.ConfirmPersistentStateDeletion {
				return finish(cmd, cfg, nil, orchestrator.ErrDataDeletionNotConfirmed)
			}
			orch, err := newOrchestrator(cfg)
			if err != nil {
				return err
			}
			report, runErr := orch.Teardown(cmd.Context(), plan, opts)
			return finish(cmd, cfg, report, runErr)
		},
	}
	cmd.Flags().BoolVar(&opts.IncludePersistentState, "include-data", false, "Also delete persistent volume claims")
	cmd.Flags().BoolVar(&opts.ConfirmPersistentStateDeletion, "confirm-data-deletion", false, "Confirm that persistent data may be deleted")
	return cmd
}
