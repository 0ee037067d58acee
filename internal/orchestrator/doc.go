// Package orchestrator drives a phased deployment of descriptors against one
// target cluster.
//
// The orchestrator turns a set of descriptors into a Plan, applies the plan
// stage by stage and only moves on once the current stage is Functional. A
// stage that cannot get there stops the run and everything that was applied
// is rolled back newest first, so the target never keeps a half-installed
// dependent on top of a broken dependency.
//
// # Architecture
//
// The package sits on top of four narrower packages:
//
//   - dependency: orders descriptors so every stage comes after its dependencies
//   - health: the probe strategies and the back-off poller
//   - cluster: the handle used to apply, list, exec into and delete
//   - lock: the run-scoped lock that keeps concurrent runs off one target
//
// # Runs
//
// Every operation is a run with its own run ID and produces a RunReport:
//
//  1. Deploy applies and probes each stage in plan order, then verifies
//  2. RollbackTo removes every stage after a named stage, in reverse
//  3. Teardown removes every stage in reverse, keeping persistent state
//     unless its deletion is confirmed
//  4. VerifyRun probes every stage once and runs the smoke checks
//
// Runs hold the target lock from start to finish. The lock is released on
// every exit path, including cancellation. A lease lost mid-run cancels the
// run with an error matching lock.ErrLost, which deploy treats like any
// other interruption.
//
// # Rollback
//
// Rollback ignores cancellation of the run that triggered it: once started
// it removes every applied stage, each bounded by the rollback timeout. A
// stage whose instances do not disappear in time is recorded as stuck and
// the run ends in PartialRollbackFailure.
//
// # Usage Example
//
//	descriptors, err := descriptor.LoadFile("stack.yaml")
//	if err != nil {
//	    return err
//	}
//	plan, err := orchestrator.BuildPlan(descriptors, orchestrator.DefaultTimeouts())
//	if err != nil {
//	    return err // matches orchestrator.ErrPlan
//	}
//
//	orch := orchestrator.New(orchestrator.Config{
//	    Cluster: kubeCluster,
//	    Locker:  lock.NewMemoryLocker(),
//	    Target:  "kind-dev/streaming",
//	})
//	report, err := orch.Deploy(ctx, plan, orchestrator.DeployOptions{})
//
// # Errors
//
// Errors are typed so that callers can map them to exit codes with errors.Is
// and errors.As: ErrPlan for invalid input, ErrDataDeletionNotConfirmed,
// ApplyError, ProbeTimeoutError, StageInterruptedError, RollbackError and
// VerificationFailure. A held lock surfaces as lock.ErrHeld.
package orchestrator
