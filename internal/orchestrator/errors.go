package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stackctl/internal/dependency"
	"stackctl/internal/health"
	"stackctl/internal/reporting"
)

// ErrPlan is matched by every error caused by invalid input: descriptor
// validation, unknown dependencies, cycles, unknown probe types and unknown
// stage names. Such errors are detected before the cluster is touched.
var ErrPlan = dependency.ErrPlan

// ErrDataDeletionNotConfirmed refuses a teardown that would remove persistent
// state without explicit confirmation.
var ErrDataDeletionNotConfirmed = errors.New("persistent state deletion requested without confirmation")

// UnknownStageError names a stage that is not part of the plan.
type UnknownStageError struct {
	Name string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("stage %q is not part of the plan", e.Name)
}

func (e *UnknownStageError) Is(target error) bool { return target == ErrPlan }

// ApplyError is a failed apply of one document.
type ApplyError struct {
	Stage string
	Doc   string
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("stage %s: applying %s: %v", e.Stage, e.Doc, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// ProbeTimeoutError is a stage that did not become Functional in time.
type ProbeTimeoutError struct {
	Stage      string
	Timeout    time.Duration
	LastStatus health.Status
	LastErr    error
}

func (e *ProbeTimeoutError) Error() string {
	msg := fmt.Sprintf("stage %s: not Functional within %s (last status %s)", e.Stage, e.Timeout, e.LastStatus)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ProbeTimeoutError) Is(target error) bool { return target == health.ErrTimeout }

func (e *ProbeTimeoutError) Unwrap() error { return e.LastErr }

// StageInterruptedError is a stage stopped by cancellation of the run.
type StageInterruptedError struct {
	Stage string
	Err   error
}

func (e *StageInterruptedError) Error() string {
	return fmt.Sprintf("stage %s interrupted: %v", e.Stage, e.Err)
}

func (e *StageInterruptedError) Unwrap() error { return e.Err }

// RollbackError lists the stages whose resources could not be removed.
type RollbackError struct {
	Stuck []reporting.StuckDescriptor
}

func (e *RollbackError) Error() string {
	names := make([]string, 0, len(e.Stuck))
	for _, s := range e.Stuck {
		names = append(names, s.Descriptor)
	}
	return fmt.Sprintf("resources of %s were not removed", strings.Join(names, ", "))
}

// VerificationFailure is a failed verification check.
type VerificationFailure struct {
	Check string
	Err   error
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification check %s failed: %v", e.Check, e.Err)
}

func (e *VerificationFailure) Unwrap() error { return e.Err }
