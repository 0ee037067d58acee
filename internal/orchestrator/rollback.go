package orchestrator

import (
	"context"
	"fmt"

	"stackctl/internal/cluster"
	"stackctl/internal/descriptor"
	"stackctl/internal/health"
	"stackctl/internal/reporting"
	"stackctl/pkg/logging"
)

// Rollback removes the given descriptors in reverse order and waits for their
// instances to disappear. A descriptor that is still present after the
// rollback timeout is recorded as stuck and the rollback moves on.
//
// Rollback cannot be aborted: it runs on a context detached from ctx's
// cancellation and is bounded by the rollback timeout of each descriptor.
func (o *Orchestrator) Rollback(ctx context.Context, applied []*descriptor.Descriptor) *reporting.RollbackResult {
	ctx = context.WithoutCancel(ctx)
	result := &reporting.RollbackResult{RolledBack: []string{}}
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if stuck := o.remove(ctx, d, false); stuck != nil {
			result.Stuck = append(result.Stuck, *stuck)
			continue
		}
		result.RolledBack = append(result.RolledBack, d.Name)
	}
	return result
}

// rollbackStages rolls applied back and records the outcome on report.
func (o *Orchestrator) rollbackStages(ctx context.Context, report *reporting.RunReport, applied []Stage) *reporting.RollbackResult {
	descriptors := make([]*descriptor.Descriptor, 0, len(applied))
	for _, s := range applied {
		descriptors = append(descriptors, s.Descriptor)
	}
	if len(descriptors) > 0 {
		logging.Info("Orchestrator", "Rolling back %d stages", len(descriptors))
	}

	result := o.Rollback(ctx, descriptors)
	for _, name := range result.RolledBack {
		if res := report.Stage(name); res != nil {
			res.Transition(reporting.StageRolledBack, o.now(), "resources removed")
			o.reportStage(report, res, "resources removed", nil)
		}
	}
	for _, stuck := range result.Stuck {
		if res := report.Stage(stuck.Descriptor); res != nil {
			res.AddDiagnostic(stuckMessage(stuck))
			o.reportStage(report, res, stuckMessage(stuck), nil)
		}
	}
	return result
}

// RollbackTo removes every stage after to, newest first, under the target
// lock. An empty to removes the whole plan. Stages before to are left alone.
func (o *Orchestrator) RollbackTo(ctx context.Context, plan *Plan, to string) (*reporting.RunReport, error) {
	stages, err := plan.After(to)
	if err != nil {
		return nil, err
	}

	reversed := make([]Stage, 0, len(stages))
	for i := len(stages) - 1; i >= 0; i-- {
		reversed = append(reversed, stages[i])
	}
	report := o.newReport(reporting.OperationRollback, plan, reversed)

	ctx, release, err := o.acquire(ctx, report)
	if err != nil {
		return report, err
	}
	defer release()

	if to == "" {
		logging.Info("Orchestrator", "Rolling back every stage on %s", o.target)
	} else {
		logging.Info("Orchestrator", "Rolling back %d stages after %s on %s", len(stages), to, o.target)
	}

	result := o.rollbackStages(ctx, report, stages)
	report.Rollback = result
	if lost := lockLost(ctx); lost != nil {
		report.Warn("%v; rollback continued without the lock", lost)
	}
	for _, stuck := range result.Stuck {
		if res := report.Stage(stuck.Descriptor); res != nil {
			res.Fail(fmt.Errorf("%s", stuckMessage(stuck)), o.now())
		}
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

// remove deletes d's resources and waits for its instances to go away. It
// returns nil once nothing matches the selector any more.
func (o *Orchestrator) remove(ctx context.Context, d *descriptor.Descriptor, includePersistentState bool) *reporting.StuckDescriptor {
	timeout := o.polling.RollbackTimeout

	req := deleteRequest(d, includePersistentState)

	deleteCtx, cancel := context.WithTimeout(ctx, timeout)
	err := o.cluster.Delete(deleteCtx, req)
	cancel()
	if err != nil {
		logging.Error("Orchestrator", err, "Failed to delete resources of %s", d.Name)
		return &reporting.StuckDescriptor{Descriptor: d.Name, Remaining: o.remaining(ctx, req), Error: err.Error()}
	}

	poller := health.Poller{BaseInterval: o.polling.BaseInterval, MaxInterval: o.polling.MaxInterval}
	if _, err := poller.Poll(ctx, timeout, health.Removal(o.cluster, req), health.UntilAbsent); err != nil {
		remaining := o.remaining(ctx, req)
		logging.Warn("Orchestrator", "Resources of %s still present after %s: %v", d.Name, timeout, remaining)
		return &reporting.StuckDescriptor{Descriptor: d.Name, Remaining: remaining, Error: err.Error()}
	}
	logging.Debug("Orchestrator", "Removed resources of %s", d.Name)
	return nil
}

// remaining names the instances still running, then the objects still
// present. Listing errors leave their part empty.
func (o *Orchestrator) remaining(ctx context.Context, req cluster.DeleteRequest) []string {
	listCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()
	var out []string
	if instances, err := o.cluster.ListInstances(listCtx, req.Selector); err == nil {
		out = health.InstanceNames(instances)
	}
	if objects, err := o.cluster.Remaining(listCtx, req); err == nil {
		out = append(out, objects...)
	}
	return out
}

func deleteRequest(d *descriptor.Descriptor, includePersistentState bool) cluster.DeleteRequest {
	refs := make([]cluster.ObjectRef, 0, len(d.Documents))
	for _, doc := range d.Documents {
		refs = append(refs, cluster.ObjectRef{GVK: doc.GVK(), Namespace: doc.Namespace(), Name: doc.Name()})
	}
	return cluster.DeleteRequest{
		Selector:               d.Selector,
		Objects:                refs,
		Kinds:                  d.Kinds(),
		IncludePersistentState: includePersistentState,
	}
}

func stuckMessage(s reporting.StuckDescriptor) string {
	if len(s.Remaining) == 0 {
		return fmt.Sprintf("not removed: %s", s.Error)
	}
	return fmt.Sprintf("not removed, remaining %v: %s", s.Remaining, s.Error)
}
