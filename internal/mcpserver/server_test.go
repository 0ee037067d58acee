package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"stackctl/internal/descriptor"
	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/store"
)

const target = "kind-dev/streaming"

func testPlan() (*orchestrator.Plan, error) {
	doc := func(kind, name string) descriptor.Document {
		obj := &unstructured.Unstructured{}
		obj.SetAPIVersion("apps/v1")
		obj.SetKind(kind)
		obj.SetName(name)
		return descriptor.Document{Source: name + ".yaml", Object: obj}
	}
	return orchestrator.BuildPlan([]*descriptor.Descriptor{
		{
			Name:              "kafka",
			Documents:         []descriptor.Document{doc("StatefulSet", "kafka")},
			Selector:          map[string]string{"app": "kafka"},
			DependsOn:         []string{"zookeeper"},
			ExpectedInstances: 3,
			Probe:             descriptor.ProbeSpec{Type: descriptor.ProbeKafka},
			Criticality:       descriptor.CriticalityCritical,
			OnProbeTimeout:    descriptor.OnProbeTimeoutFail,
		},
		{
			Name:              "zookeeper",
			Documents:         []descriptor.Document{doc("StatefulSet", "zookeeper")},
			Selector:          map[string]string{"app": "zookeeper"},
			ExpectedInstances: 3,
			Probe:             descriptor.ProbeSpec{Type: descriptor.ProbeZooKeeper},
			Criticality:       descriptor.CriticalityCritical,
			OnProbeTimeout:    descriptor.OnProbeTimeoutFail,
		},
	}, orchestrator.DefaultTimeouts())
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent")
	return text.Text
}

func savedReport(t *testing.T, s store.Store, runID string, state reporting.RunState, started time.Time) {
	t.Helper()
	r := reporting.NewRunReport(runID, reporting.OperationDeploy, target, started)
	r.AddStage("zookeeper", started)
	r.Finish(state, nil, started.Add(time.Minute))
	require.NoError(t, s.Save(r))
}

func TestPlanTool(t *testing.T) {
	s := New("1.0.0", target, testPlan, store.NewMemoryStore())

	result, err := s.handlePlan(context.Background(), callRequest("plan", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var stages []reporting.PlannedStage
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &stages))
	require.Len(t, stages, 2)
	assert.Equal(t, "zookeeper", stages[0].Descriptor)
	assert.Equal(t, "kafka", stages[1].Descriptor)
}

func TestPlanTool_InvalidPlan(t *testing.T) {
	broken := func() (*orchestrator.Plan, error) {
		return nil, errors.New("descriptor \"kafka\": unknown dependency")
	}
	s := New("1.0.0", target, broken, store.NewMemoryStore())

	result, err := s.handlePlan(context.Background(), callRequest("plan", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown dependency")
}

func TestLastReportTool(t *testing.T) {
	history := store.NewMemoryStore()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	savedReport(t, history, "run-1", reporting.RunFailed, start)
	savedReport(t, history, "run-2", reporting.RunSucceeded, start.Add(time.Hour))

	s := New("1.0.0", target, testPlan, history)

	result, err := s.handleLastReport(context.Background(), callRequest("last_report", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var report reporting.RunReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	assert.Equal(t, "run-2", report.RunID)
	assert.Equal(t, reporting.RunSucceeded, report.State)
}

func TestLastReportTool_UnknownTarget(t *testing.T) {
	s := New("1.0.0", target, testPlan, store.NewMemoryStore())

	result, err := s.handleLastReport(context.Background(), callRequest("last_report", map[string]interface{}{
		"target": "prod/streaming",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No run recorded for prod/streaming")
}

func TestRunHistoryTool(t *testing.T) {
	history := store.NewMemoryStore()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		savedReport(t, history, id, reporting.RunSucceeded, start.Add(time.Duration(i)*time.Hour))
	}
	s := New("1.0.0", target, testPlan, history)

	result, err := s.handleRunHistory(context.Background(), callRequest("run_history", map[string]interface{}{
		"limit": float64(2),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var response struct {
		Target string       `json:"target"`
		Count  int          `json:"count"`
		Runs   []runSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	assert.Equal(t, target, response.Target)
	assert.Equal(t, 2, response.Count)
	assert.Equal(t, "run-3", response.Runs[0].RunID)
	assert.Equal(t, "1m0s", response.Runs[0].Duration)
}

func TestRunHistoryTool_NegativeLimit(t *testing.T) {
	s := New("1.0.0", target, testPlan, store.NewMemoryStore())

	result, err := s.handleRunHistory(context.Background(), callRequest("run_history", map[string]interface{}{
		"limit": float64(-1),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTargetsTool(t *testing.T) {
	history := store.NewMemoryStore()
	savedReport(t, history, "run-1", reporting.RunSucceeded, time.Now())
	s := New("1.0.0", target, testPlan, history)

	result, err := s.handleTargets(context.Background(), callRequest("targets", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"targets": ["kind-dev/streaming"]}`, resultText(t, result))
}

func TestPlanResource(t *testing.T) {
	s := New("1.0.0", target, testPlan, store.NewMemoryStore())

	contents, err := s.handlePlanResource(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, planResourceURI, text.URI)
	assert.Contains(t, text.Text, `"descriptor": "zookeeper"`)
}
