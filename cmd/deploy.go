package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
)

type deployOptions struct {
	planOnly        bool
	dryRun          bool
	skipVerify      bool
	timeoutPerStage time.Duration
}

func newDeployCmd() *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the stack stage by stage",
		Long: `Applies every descriptor in dependency order. A stage is applied and then
probed until it is functional; only then does the next stage start.

If a stage fails to apply, does not become functional in time or the run is
interrupted, every stage applied so far is rolled back in reverse order.

After a successful deployment the verification checks run. Failed checks are
reported as warnings and do not fail the deployment.

Exit codes:
  0  deployment succeeded
  1  deployment failed and was rolled back
  2  deployment failed and the rollback left resources behind
  3  invalid descriptors or configuration
  4  another run holds the target lock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.planOnly, "plan-only", false, "Print the plan without touching the cluster")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate every document with a server-side dry run")
	cmd.Flags().BoolVar(&opts.skipVerify, "skip-verify", false, "Skip the verification checks after deployment")
	cmd.Flags().DurationVar(&opts.timeoutPerStage, "timeout-per-stage", 0, "Probe timeout for every stage, overriding descriptor and criticality timeouts")
	return cmd
}

func runDeploy(cmd *cobra.Command, opts *deployOptions) error {
	cfg, plan, err := setup(opts.timeoutPerStage)
	if err != nil {
		return err
	}

	if opts.planOnly {
		format, err := reporting.ParseFormat(cfg.Output)
		if err != nil {
			return err
		}
		return reporting.RenderPlan(cmd.OutOrStdout(), plan.Summary(), format)
	}

	orch, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}
	report, runErr := orch.Deploy(cmd.Context(), plan, orchestrator.DeployOptions{
		DryRun:     opts.dryRun,
		SkipVerify: opts.skipVerify,
	})
	return finish(cmd, cfg, report, runErr)
}
