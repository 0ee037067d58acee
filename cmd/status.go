package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stackctl/internal/reporting"
	"stackctl/internal/store"
)

func newStatusCmd() *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded run against the target",
		Long: `Reads the run history of the target and prints the last report. With
--history the given number of most recent reports is printed, newest first.
The cluster itself is not contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if history < 0 {
				return fmt.Errorf("--history must not be negative")
			}
			cfg, err := loadConfig()
			if err != nil {
				return &ExitError{Code: exitInvalidPlan, Err: err}
			}
			format, err := reporting.ParseFormat(cfg.Output)
			if err != nil {
				return err
			}
			target, err := resolveTarget(cfg)
			if err != nil {
				return err
			}

			s := newHistoryStore(cfg)
			var reports []*reporting.RunReport
			if history == 0 {
				last, err := s.Last(target)
				if errors.Is(err, store.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "No run recorded for %s\n", target)
					return nil
				}
				if err != nil {
					return err
				}
				reports = append(reports, last)
			} else {
				reports, err = s.History(target, history)
				if err != nil {
					return err
				}
				if len(reports) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No run recorded for %s\n", target)
					return nil
				}
			}

			for _, report := range reports {
				if err := reporting.RenderReport(cmd.OutOrStdout(), report, format); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "Print this many recent reports instead of only the last one")
	return cmd
}
