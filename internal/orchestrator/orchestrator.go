package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"stackctl/internal/cluster"
	"stackctl/internal/config"
	"stackctl/internal/descriptor"
	"stackctl/internal/health"
	"stackctl/internal/lock"
	"stackctl/internal/reporting"
	"stackctl/internal/store"
	"stackctl/pkg/logging"
)

// releaseTimeout bounds the lock release that runs on every exit path.
const releaseTimeout = 10 * time.Second

// Polling is the back-off policy for health and absence polling.
type Polling struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	// RollbackTimeout bounds the removal of each descriptor during rollback
	// and teardown.
	RollbackTimeout time.Duration
}

// DefaultPolling returns 2s base, 30s cap and a 2m removal bound.
func DefaultPolling() Polling {
	return Polling{BaseInterval: 2 * time.Second, MaxInterval: 30 * time.Second, RollbackTimeout: 2 * time.Minute}
}

// Config holds everything an Orchestrator needs. Cluster and Locker are
// required; the rest has defaults.
type Config struct {
	Cluster cluster.Cluster
	Locker  lock.Locker
	// Target identifies the cluster and namespace, "context/namespace".
	Target string
	// Holder identifies this process in lock errors. Defaults to the
	// hostname and process ID.
	Holder   string
	Reporter reporting.Reporter
	// Store, if set, receives every finished report except dry runs.
	Store   store.Store
	Polling Polling
	// Verification enables the post-deploy checks and adds exec checks.
	Verification config.VerificationConfig

	// Now and NewRunID are overridable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// Orchestrator runs plans against one target. It holds no state between
// runs; every run takes the target lock for its whole duration.
type Orchestrator struct {
	cluster      cluster.Cluster
	locker       lock.Locker
	target       string
	holder       string
	reporter     reporting.Reporter
	store        store.Store
	polling      Polling
	verification config.VerificationConfig
	now          func() time.Time
	newRunID     func() string
}

// New creates an orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		cluster:      cfg.Cluster,
		locker:       cfg.Locker,
		target:       cfg.Target,
		holder:       cfg.Holder,
		reporter:     cfg.Reporter,
		store:        cfg.Store,
		polling:      cfg.Polling,
		verification: cfg.Verification,
		now:          cfg.Now,
		newRunID:     cfg.NewRunID,
	}
	defaults := DefaultPolling()
	if o.polling.BaseInterval <= 0 {
		o.polling.BaseInterval = defaults.BaseInterval
	}
	if o.polling.MaxInterval <= 0 {
		o.polling.MaxInterval = defaults.MaxInterval
	}
	if o.polling.RollbackTimeout <= 0 {
		o.polling.RollbackTimeout = defaults.RollbackTimeout
	}
	if o.holder == "" {
		o.holder = DefaultHolder()
	}
	if o.reporter == nil {
		o.reporter = reporting.NopReporter{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	return o
}

// DefaultHolder identifies the current process as "hostname/pid".
func DefaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s/%d", host, os.Getpid())
}

// DeployOptions tunes a deployment run.
type DeployOptions struct {
	// PlanOnly returns the plan as a report without touching the cluster or
	// the lock.
	PlanOnly bool
	// DryRun applies with server-side dry run and skips probing,
	// verification, rollback and history.
	DryRun bool
	// SkipVerify disables verification for this run.
	SkipVerify bool
}

func (o *Orchestrator) newReport(op reporting.Operation, plan *Plan, stages []Stage) *reporting.RunReport {
	report := reporting.NewRunReport(o.newRunID(), op, o.target, o.now())
	if stages == nil && plan != nil {
		stages = plan.Stages
	}
	for _, s := range stages {
		report.AddStage(s.Name(), o.now())
	}
	return report
}

// acquire takes the target lock. The returned context is cancelled with an
// error matching lock.ErrLost if the lease is lost before release is called.
func (o *Orchestrator) acquire(ctx context.Context, report *reporting.RunReport) (context.Context, func(), error) {
	lease, err := o.locker.Acquire(ctx, o.target, o.holder+"/"+report.RunID)
	if err != nil {
		report.Finish(reporting.RunFailed, err, o.now())
		o.reportRun(report, err)
		return ctx, nil, err
	}
	logging.Debug("Orchestrator", "Acquired lock on %s as %s", o.target, lease.Holder())

	runCtx, cancel := context.WithCancelCause(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case lostErr := <-lease.Lost():
			logging.Error("Orchestrator", lostErr, "Lock on %s lost, stopping run %s", o.target, report.RunID)
			cancel(lostErr)
		case <-runCtx.Done():
		}
	}()

	release := func() {
		cancel(nil)
		<-watched
		o.release(ctx, lease)
	}
	return runCtx, release, nil
}

// lockLost returns the lease loss that cancelled ctx, or nil.
func lockLost(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, lock.ErrLost) {
		return cause
	}
	return nil
}

// interruption is the error recorded when ctx ends a stage.
func interruption(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// release runs on a detached context so that a cancelled run still frees
// the target.
func (o *Orchestrator) release(ctx context.Context, lease lock.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		logging.Error("Orchestrator", err, "Failed to release lock on %s", o.target)
	}
}

// Deploy applies the plan stage by stage. Each stage is applied and then
// polled until Functional. The first stage that fails (apply error, probe
// timeout or cancellation) stops the run and every stage that was applied,
// the failing one included, is rolled back in reverse order.
//
// The returned error is nil for a Succeeded run. Verification failures never
// fail a deployment; they are recorded as warnings.
func (o *Orchestrator) Deploy(ctx context.Context, plan *Plan, opts DeployOptions) (*reporting.RunReport, error) {
	report := o.newReport(reporting.OperationDeploy, plan, nil)
	report.DryRun = opts.DryRun

	if opts.PlanOnly {
		report.Finish(reporting.RunSucceeded, nil, o.now())
		return report, nil
	}

	ctx, release, err := o.acquire(ctx, report)
	if err != nil {
		return report, err
	}
	defer release()

	logging.Info("Orchestrator", "Deploying %d stages to %s (run %s)", len(plan.Stages), o.target, report.RunID)

	var applied []Stage
	for _, stage := range plan.Stages {
		res := report.Stage(stage.Name())

		touched, err := o.applyStage(ctx, stage, res, opts.DryRun)
		if touched {
			applied = append(applied, stage)
		}
		if err == nil && !opts.DryRun {
			err = o.awaitFunctional(ctx, stage, res)
			var timeout *ProbeTimeoutError
			if errors.As(err, &timeout) && stage.Descriptor.OnProbeTimeout == descriptor.OnProbeTimeoutContinue {
				report.Warn("%v; continuing as configured for %s", err, stage.Name())
				logging.Warn("Orchestrator", "Stage %s did not become Functional, continuing: %v", stage.Name(), err)
				err = nil
			}
		}
		if err != nil {
			return o.failDeploy(ctx, report, res, applied, err, opts.DryRun)
		}
	}

	if !opts.DryRun && !opts.SkipVerify && o.verification.IsEnabled() {
		report.Verification = o.Verify(ctx, plan, report.RunID)
		for _, c := range report.Verification {
			if !c.Passed {
				report.Warn("verification check %s failed: %s", c.Name, c.Error)
			}
		}
	}

	report.Finish(reporting.RunSucceeded, nil, o.now())
	o.reportRun(report, nil)
	if !opts.DryRun {
		o.save(report)
	}
	return report, nil
}

func (o *Orchestrator) failDeploy(ctx context.Context, report *reporting.RunReport, res *reporting.StageResult, applied []Stage, cause error, dryRun bool) (*reporting.RunReport, error) {
	res.Fail(cause, o.now())
	o.reportStage(report, res, "", cause)

	if dryRun {
		report.Finish(reporting.RunFailed, cause, o.now())
		o.reportRun(report, cause)
		return report, cause
	}

	rollback := o.rollbackStages(ctx, report, applied)
	report.Rollback = rollback

	if !rollback.Complete() {
		err := errors.Join(cause, &RollbackError{Stuck: rollback.Stuck})
		report.Finish(reporting.RunPartialRollbackFailure, err, o.now())
		o.reportRun(report, err)
		o.save(report)
		return report, err
	}
	report.Finish(reporting.RunFailed, cause, o.now())
	o.reportRun(report, cause)
	o.save(report)
	return report, cause
}

// applyStage applies every document of the stage in order. touched reports
// whether any document reached the cluster.
func (o *Orchestrator) applyStage(ctx context.Context, stage Stage, res *reporting.StageResult, dryRun bool) (touched bool, err error) {
	for _, doc := range stage.Descriptor.Documents {
		if ctx.Err() != nil {
			return touched, &StageInterruptedError{Stage: stage.Name(), Err: interruption(ctx)}
		}
		if err := o.cluster.Apply(ctx, doc.Object, cluster.ApplyOptions{DryRun: dryRun}); err != nil {
			if ctx.Err() != nil {
				return touched, &StageInterruptedError{Stage: stage.Name(), Err: interruption(ctx)}
			}
			return touched, &ApplyError{Stage: stage.Name(), Doc: doc.String(), Err: err}
		}
		touched = !dryRun
	}

	message := fmt.Sprintf("%d documents applied", len(stage.Descriptor.Documents))
	if dryRun {
		message = fmt.Sprintf("%d documents accepted by server-side dry run", len(stage.Descriptor.Documents))
	}
	res.Transition(reporting.StageApplied, o.now(), message)
	o.reportStageState(res, message)
	return touched, nil
}

// awaitFunctional polls the stage probe until Functional. Ready is recorded
// the first time it is observed; malformed results become diagnostics.
func (o *Orchestrator) awaitFunctional(ctx context.Context, stage Stage, res *reporting.StageResult) error {
	poller := health.Poller{
		BaseInterval: o.polling.BaseInterval,
		MaxInterval:  o.polling.MaxInterval,
		Observe: func(r health.Result) {
			if r.Status >= health.Ready && !res.Reached(reporting.StageReady) {
				res.Transition(reporting.StageReady, o.now(), r.Message)
				o.reportStageState(res, r.Message)
			}
			if r.IsMalformed() {
				res.AddDiagnostic(r.Err.Error())
				logging.Warn("Orchestrator", "Stage %s: %v", stage.Name(), r.Err)
			} else if r.Err != nil {
				logging.Debug("Orchestrator", "Stage %s at %s: %v", stage.Name(), r.Status, r.Err)
			}
		},
	}

	check := func(ctx context.Context) health.Result {
		return stage.Probe.Check(ctx, o.cluster, stage.Descriptor)
	}
	last, err := poller.Poll(ctx, stage.Timeout, check, health.UntilStatus(health.Functional))
	switch {
	case err == nil:
		res.Transition(reporting.StageFunctional, o.now(), last.Message)
		o.reportStageState(res, last.Message)
		return nil
	case errors.Is(err, health.ErrTimeout):
		return &ProbeTimeoutError{Stage: stage.Name(), Timeout: stage.Timeout, LastStatus: last.Status, LastErr: last.Err}
	default:
		return &StageInterruptedError{Stage: stage.Name(), Err: interruption(ctx)}
	}
}

func (o *Orchestrator) reportStageState(res *reporting.StageResult, message string) {
	o.reporter.Report(reporting.Update{
		Timestamp:  o.now(),
		Target:     o.target,
		Stage:      res.Descriptor,
		StageState: res.State,
		Message:    message,
	})
}

func (o *Orchestrator) reportStage(report *reporting.RunReport, res *reporting.StageResult, message string, err error) {
	o.reporter.Report(reporting.Update{
		Timestamp:  o.now(),
		Operation:  report.Operation,
		Target:     o.target,
		Stage:      res.Descriptor,
		StageState: res.State,
		Message:    message,
		Err:        err,
	})
}

func (o *Orchestrator) reportRun(report *reporting.RunReport, err error) {
	o.reporter.Report(reporting.Update{
		Timestamp: o.now(),
		Operation: report.Operation,
		Target:    o.target,
		RunState:  report.State,
		Err:       err,
	})
}

func (o *Orchestrator) save(report *reporting.RunReport) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(report); err != nil {
		logging.Warn("Orchestrator", "Failed to record run %s: %v", report.RunID, err)
	}
}
