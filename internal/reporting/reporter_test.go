package reporting

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"stackctl/pkg/logging"
)

func TestConsoleReporter_Report(t *testing.T) {
	tests := []struct {
		name           string
		update         Update
		expectedLevel  string
		expectedSubstr string
	}{
		{
			name:           "pending stage is debug",
			update:         Update{Stage: "zookeeper", StageState: StagePending},
			expectedLevel:  "level=DEBUG",
			expectedSubstr: "State: Pending",
		},
		{
			name:           "functional stage is info",
			update:         Update{Stage: "zookeeper", StageState: StageFunctional, Message: "3/3 instances"},
			expectedLevel:  "level=INFO",
			expectedSubstr: "State: Functional, 3/3 instances",
		},
		{
			name:           "failed stage is error",
			update:         Update{Stage: "kafka", StageState: StageFailed, Err: errors.New("probe timed out")},
			expectedLevel:  "level=ERROR",
			expectedSubstr: "probe timed out",
		},
		{
			name:           "rolled back stage is warn",
			update:         Update{Stage: "kafka", StageState: StageRolledBack},
			expectedLevel:  "level=WARN",
			expectedSubstr: "subsystem=Stage-kafka",
		},
		{
			name:           "run outcome",
			update:         Update{Operation: OperationDeploy, Target: "kind-dev/streaming", RunState: RunPartialRollbackFailure},
			expectedLevel:  "level=ERROR",
			expectedSubstr: "deploy kind-dev/streaming: PartialRollbackFailure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logging.InitForCLI(logging.LevelDebug, logging.FormatText, &buf)

			NewConsoleReporter().Report(tt.update)

			out := buf.String()
			assert.Contains(t, out, tt.expectedLevel)
			assert.Contains(t, out, tt.expectedSubstr)
		})
	}
}

func TestRecorderAndMulti(t *testing.T) {
	rec := &Recorder{}
	var count int
	multi := MultiReporter{rec, nil, ReporterFunc(func(Update) { count++ }), NopReporter{}}

	multi.Report(Update{Stage: "zookeeper", StageState: StageApplied})
	multi.Report(Update{Stage: "kafka", StageState: StageApplied})
	multi.Report(Update{Stage: "zookeeper", StageState: StageFunctional})

	assert.Equal(t, 3, count)
	assert.Len(t, rec.Updates(), 3)
	assert.Equal(t, []StageState{StageApplied, StageFunctional}, rec.StageStates("zookeeper"))
}
