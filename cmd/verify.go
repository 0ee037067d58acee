package cmd

import (
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Probe every stage and run the verification checks",
		Long: `Probes every stage once and runs the verification checks against the
deployed stack: a topic round trip on the brokers, a quorum check and a znode
round trip on the coordination service, plus the checks listed under
verification.checks in the configuration.

Unlike after a deployment, a failed check makes the command exit with 1.`,
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
			report, runErr := orch.VerifyRun(cmd.Context(), plan)
			return finish(cmd, cfg, report, runErr)
		},
	}
}
