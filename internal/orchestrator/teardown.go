package orchestrator

import (
	"context"
	"fmt"

	"stackctl/internal/reporting"
	"stackctl/pkg/logging"
)

// TeardownOptions controls what a teardown removes.
type TeardownOptions struct {
	// IncludePersistentState also removes the volume claims of each stage.
	IncludePersistentState bool
	// ConfirmPersistentStateDeletion must be set together with
	// IncludePersistentState.
	ConfirmPersistentStateDeletion bool
}

// Teardown removes every stage of the plan in reverse order, whatever state
// the stages are in. Stages that are already absent count as removed.
//
// Persistent state is kept unless IncludePersistentState and
// ConfirmPersistentStateDeletion are both set; asking for deletion without
// the confirmation fails with ErrDataDeletionNotConfirmed before the cluster
// or the lock is touched. Cancellation is honoured between stages, never in
// the middle of removing one.
func (o *Orchestrator) Teardown(ctx context.Context, plan *Plan, opts TeardownOptions) (*reporting.RunReport, error) {
	if opts.IncludePersistentState && !opts.ConfirmPersistentStateDeletion {
		return nil, ErrDataDeletionNotConfirmed
	}

	reversed := make([]Stage, 0, len(plan.Stages))
	for i := len(plan.Stages) - 1; i >= 0; i-- {
		reversed = append(reversed, plan.Stages[i])
	}
	report := o.newReport(reporting.OperationTeardown, plan, reversed)

	ctx, release, err := o.acquire(ctx, report)
	if err != nil {
		return report, err
	}
	defer release()

	persistent := reporting.PersistentStateRetained
	if opts.IncludePersistentState {
		persistent = reporting.PersistentStateRemoved
	}
	logging.Info("Orchestrator", "Tearing down %d stages on %s, persistent state %s", len(reversed), o.target, persistent)

	result := &reporting.RollbackResult{RolledBack: []string{}}
	report.Rollback = result
	removeCtx := context.WithoutCancel(ctx)

	for _, stage := range reversed {
		if ctx.Err() != nil {
			err := fmt.Errorf("teardown interrupted before %s: %w", stage.Name(), interruption(ctx))
			report.Finish(reporting.RunFailed, err, o.now())
			o.reportRun(report, err)
			o.save(report)
			return report, err
		}

		res := report.Stage(stage.Name())
		res.PersistentState = persistent

		if stuck := o.remove(removeCtx, stage.Descriptor, opts.IncludePersistentState); stuck != nil {
			result.Stuck = append(result.Stuck, *stuck)
			res.Fail(fmt.Errorf("%s", stuckMessage(*stuck)), o.now())
			o.reportStage(report, res, "", fmt.Errorf("%s", stuckMessage(*stuck)))
			continue
		}

		result.RolledBack = append(result.RolledBack, stage.Name())
		message := fmt.Sprintf("resources removed, persistent state %s", persistent)
		res.Transition(reporting.StageRolledBack, o.now(), message)
		o.reportStage(report, res, message, nil)
	}

	if !result.Complete() {
		err := &RollbackError{Stuck: result.Stuck}
		report.Finish(reporting.RunPartialRollbackFailure, err, o.now())
		o.reportRun(report, err)
		o.save(report)
		return report, err
	}

	report.Finish(reporting.RunSucceeded, nil, o.now())
	o.reportRun(report, nil)
	o.save(report)
	return report, nil
}
