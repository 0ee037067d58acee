package reporting

import (
	"fmt"
	"time"
)

// StageState is the lifecycle position of one stage within a run.
type StageState string

const (
	StagePending    StageState = "Pending"
	StageApplied    StageState = "Applied"
	StageReady      StageState = "Ready"
	StageFunctional StageState = "Functional"
	StageFailed     StageState = "Failed"
	StageRolledBack StageState = "RolledBack"
)

// String makes StageState satisfy the fmt.Stringer interface.
func (s StageState) String() string {
	return string(s)
}

// RunState is the overall outcome of a run.
type RunState string

const (
	RunRunning                RunState = "Running"
	RunSucceeded              RunState = "Succeeded"
	RunFailed                 RunState = "Failed"
	RunPartialRollbackFailure RunState = "PartialRollbackFailure"
)

// String makes RunState satisfy the fmt.Stringer interface.
func (s RunState) String() string {
	return string(s)
}

// Operation names the command that produced a report.
type Operation string

const (
	OperationDeploy   Operation = "deploy"
	OperationRollback Operation = "rollback"
	OperationTeardown Operation = "teardown"
	OperationVerify   Operation = "verify"
)

// PersistentState tells whether a torn down stage kept its volumes.
type PersistentState string

const (
	PersistentStateRetained PersistentState = "retained"
	PersistentStateRemoved  PersistentState = "removed"
)

// maxDiagnostics bounds the diagnostics kept per stage. Probes retried for
// minutes would otherwise grow the report without limit.
const maxDiagnostics = 20

// Transition records one state change of a stage.
type Transition struct {
	State   StageState `json:"state"`
	At      time.Time  `json:"at"`
	Message string     `json:"message,omitempty"`
}

// StageResult is the per-descriptor part of a RunReport. History is
// append-only.
type StageResult struct {
	Descriptor      string          `json:"descriptor"`
	State           StageState      `json:"state"`
	AppliedAt       *time.Time      `json:"appliedAt,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
	Diagnostics     []string        `json:"diagnostics,omitempty"`
	History         []Transition    `json:"history"`
	PersistentState PersistentState `json:"persistentState,omitempty"`
}

// NewStageResult returns a Pending stage.
func NewStageResult(descriptor string, at time.Time) *StageResult {
	s := &StageResult{Descriptor: descriptor}
	s.Transition(StagePending, at, "")
	return s
}

// Transition moves the stage to state and appends it to the history.
func (s *StageResult) Transition(state StageState, at time.Time, message string) {
	s.State = state
	s.History = append(s.History, Transition{State: state, At: at, Message: message})
	if state == StageApplied && s.AppliedAt == nil {
		applied := at
		s.AppliedAt = &applied
	}
}

// Fail records err and moves the stage to Failed.
func (s *StageResult) Fail(err error, at time.Time) {
	message := ""
	if err != nil {
		message = err.Error()
		s.LastError = message
	}
	s.Transition(StageFailed, at, message)
}

// Reached reports whether the stage was ever in state.
func (s *StageResult) Reached(state StageState) bool {
	for _, t := range s.History {
		if t.State == state {
			return true
		}
	}
	return false
}

// AddDiagnostic records a structural probe finding. Repeats of the latest
// diagnostic are dropped.
func (s *StageResult) AddDiagnostic(message string) {
	if n := len(s.Diagnostics); n > 0 && s.Diagnostics[n-1] == message {
		return
	}
	if len(s.Diagnostics) >= maxDiagnostics {
		s.Diagnostics = s.Diagnostics[1:]
	}
	s.Diagnostics = append(s.Diagnostics, message)
}

// StuckDescriptor is a stage whose resources did not disappear in time.
type StuckDescriptor struct {
	Descriptor string   `json:"descriptor"`
	Remaining  []string `json:"remaining,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// RollbackResult summarises a rollback pass.
type RollbackResult struct {
	RolledBack []string          `json:"rolledBack"`
	Stuck      []StuckDescriptor `json:"stuck,omitempty"`
}

// Complete reports whether every stage was removed.
func (r *RollbackResult) Complete() bool {
	return r == nil || len(r.Stuck) == 0
}

// CheckResult is the outcome of one verification check.
type CheckResult struct {
	Name       string        `json:"name"`
	Descriptor string        `json:"descriptor,omitempty"`
	Instance   string        `json:"instance,omitempty"`
	Passed     bool          `json:"passed"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"durationNanos"`
}

// RunReport is the outcome of one stackctl run.
type RunReport struct {
	RunID        string          `json:"runID"`
	Operation    Operation       `json:"operation"`
	Target       string          `json:"target"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	State        RunState        `json:"state"`
	DryRun       bool            `json:"dryRun,omitempty"`
	Stages       []*StageResult  `json:"stages"`
	Rollback     *RollbackResult `json:"rollback,omitempty"`
	Verification []CheckResult   `json:"verification,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// NewRunReport starts a Running report.
func NewRunReport(runID string, op Operation, target string, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:     runID,
		Operation: op,
		Target:    target,
		StartedAt: startedAt,
		State:     RunRunning,
		Stages:    []*StageResult{},
	}
}

// AddStage appends a Pending stage for descriptor.
func (r *RunReport) AddStage(descriptor string, at time.Time) *StageResult {
	s := NewStageResult(descriptor, at)
	r.Stages = append(r.Stages, s)
	return s
}

// Stage returns the stage for descriptor, or nil.
func (r *RunReport) Stage(descriptor string) *StageResult {
	for _, s := range r.Stages {
		if s.Descriptor == descriptor {
			return s
		}
	}
	return nil
}

// Warn appends a warning.
func (r *RunReport) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Finish sets the final state. err, if any, is kept as text.
func (r *RunReport) Finish(state RunState, err error, at time.Time) {
	r.State = state
	r.FinishedAt = &at
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration is the wall time of a finished run, zero while running.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// VerificationPassed reports whether every check passed. A run without
// checks passes.
func (r *RunReport) VerificationPassed() bool {
	for _, c := range r.Verification {
		if !c.Passed {
			return false
		}
	}
	return true
}

// PlannedStage describes one stage of a plan before anything is applied.
type PlannedStage struct {
	Order             int      `json:"order"`
	Descriptor        string   `json:"descriptor"`
	DependsOn         []string `json:"dependsOn,omitempty"`
	Documents         []string `json:"documents"`
	Probe             string   `json:"probe"`
	ExpectedInstances int      `json:"expectedInstances"`
	Timeout           string   `json:"timeout"`
	Criticality       string   `json:"criticality"`
	OnProbeTimeout    string   `json:"onProbeTimeout"`
}
