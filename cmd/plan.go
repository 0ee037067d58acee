package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"stackctl/internal/reporting"
)

func newPlanCmd() *cobra.Command {
	var timeoutPerStage time.Duration
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the deployment order without touching the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, plan, err := setup(timeoutPerStage)
			if err != nil {
				return err
			}
			format, err := reporting.ParseFormat(cfg.Output)
			if err != nil {
				return err
			}
			return reporting.RenderPlan(cmd.OutOrStdout(), plan.Summary(), format)
		},
	}
	cmd.Flags().DurationVar(&timeoutPerStage, "timeout-per-stage", 0, "Show the plan with this probe timeout for every stage")
	return cmd
}
