package reporting

import (
	"fmt"
	"sync"
	"time"

	"stackctl/pkg/logging"
)

// Update carries one progress event of a run: a stage transition when Stage
// is set, otherwise a run-level event.
type Update struct {
	Timestamp time.Time
	Operation Operation
	Target    string

	Stage      string
	StageState StageState
	RunState   RunState

	Message string
	Err     error
}

// String provides a simple representation for debugging.
func (u Update) String() string {
	return fmt.Sprintf("Update(TS: %s, Op: %s, Target: %s, Stage: %s, StageState: %s, RunState: %s, Msg: '%s', Err: %v)",
		u.Timestamp.Format(time.RFC3339), u.Operation, u.Target, u.Stage, u.StageState, u.RunState, u.Message, u.Err)
}

// Reporter receives progress updates. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Report(update Update)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Update)

func (f ReporterFunc) Report(update Update) { f(update) }

// NopReporter discards every update.
type NopReporter struct{}

func (NopReporter) Report(Update) {}

// ConsoleReporter writes progress lines through pkg/logging, which sends
// them to stderr so that reports rendered to stdout stay machine-readable.
type ConsoleReporter struct{}

// NewConsoleReporter creates a new ConsoleReporter
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

// Report logs update at a level derived from its state.
func (c *ConsoleReporter) Report(update Update) {
	subsystem := "Run"
	if update.Stage != "" {
		subsystem = "Stage-" + update.Stage
	}

	logMessage := update.Message
	switch {
	case update.Stage != "" && logMessage == "":
		logMessage = "State: " + string(update.StageState)
	case update.Stage != "":
		logMessage = fmt.Sprintf("State: %s, %s", update.StageState, logMessage)
	case logMessage == "":
		logMessage = fmt.Sprintf("%s %s: %s", update.Operation, update.Target, update.RunState)
	}

	switch {
	case update.Err != nil:
		logging.Error(subsystem, update.Err, "%s", logMessage)
	case update.StageState == StageFailed, update.RunState == RunFailed, update.RunState == RunPartialRollbackFailure:
		logging.Error(subsystem, nil, "%s", logMessage)
	case update.StageState == StageRolledBack:
		logging.Warn(subsystem, "%s", logMessage)
	case update.StageState == StagePending:
		logging.Debug(subsystem, "%s", logMessage)
	default:
		logging.Info(subsystem, "%s", logMessage)
	}
}

// Recorder keeps every update in memory, for status views and tests.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Report(update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

// Updates returns a copy of the recorded updates.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// StageStates returns the recorded transitions of stage in order.
func (r *Recorder) StageStates(stage string) []StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StageState
	for _, u := range r.updates {
		if u.Stage == stage {
			out = append(out, u.StageState)
		}
	}
	return out
}

// MultiReporter fans an update out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) Report(update Update) {
	for _, r := range m {
		if r != nil {
			r.Report(update)
		}
	}
}
