package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/config"
	"stackctl/internal/reporting"
)

func checkNames(results []reporting.CheckResult) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	return names
}

func TestVerify_Battery(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)

	results := o.Verify(context.Background(), plan, "abc123")

	assert.Equal(t, []string{
		"zookeeper-ruok", "zookeeper-srvr",
		"zookeeper-create-znode", "zookeeper-get-znode", "zookeeper-delete-znode",
		"kafka-create-topic", "kafka-list-topics", "kafka-delete-topic",
	}, checkNames(results))

	for _, r := range results {
		assert.True(t, r.Passed, "%s: %s", r.Name, r.Error)
		assert.NotEmpty(t, r.Instance)
	}
	assert.Equal(t, "zookeeper-0", results[0].Instance)
	assert.Equal(t, "Created topic stackctl-verify-abc123.", results[5].Output)
	assert.Zero(t, f.topicCount())
}

func TestVerify_SkipsTerminatingInstances(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)
	f.zookeeperWorkload.Instances[0].Terminating = true

	results := o.Verify(context.Background(), plan, "abc123")
	assert.Equal(t, "zookeeper-1", results[0].Instance)
}

func TestVerify_NoReadyInstance(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)
	f.cluster.SetReady(f.kafka.Selector, false)

	results := o.Verify(context.Background(), plan, "abc123")
	for _, r := range results {
		if r.Descriptor == "kafka" {
			assert.False(t, r.Passed)
			assert.Contains(t, r.Error, "no ready instance of kafka")
		}
	}
}

func TestVerify_ConfiguredChecks(t *testing.T) {
	f := newStackFixture()
	o := newTestOrchestrator(t, f.cluster, func(c *Config) {
		c.Verification = config.VerificationConfig{
			Checks: []config.VerificationCheck{
				{
					Name:       "produce-consume",
					Descriptor: "kafka",
					Command:    []string{"sh", "-c", "echo round-trip-${VERIFY_ID}"},
					Expect:     "round-trip-abc123",
				},
				{
					Name:       "schema-registry-subjects",
					Descriptor: "schema-registry",
					Command:    []string{"curl", "localhost:8081/subjects"},
				},
			},
		}
	})
	plan := mustPlan(t, f.descriptors(), time.Second)
	_, err := o.Deploy(context.Background(), plan, DeployOptions{SkipVerify: true})
	require.NoError(t, err)

	results := o.Verify(context.Background(), plan, "abc123")
	require.Len(t, results, 10)

	byName := map[string]reporting.CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}

	custom := byName["produce-consume"]
	assert.True(t, custom.Passed, custom.Error)
	assert.Equal(t, "sh -c echo round-trip-abc123", custom.Output)

	unknown := byName["schema-registry-subjects"]
	assert.False(t, unknown.Passed)
	assert.Contains(t, unknown.Error, "not part of the plan")
}

func TestVerifyRun(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)

	report, err := o.VerifyRun(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, reporting.OperationVerify, report.Operation)
	assert.Equal(t, reporting.RunSucceeded, report.State)
	assert.Len(t, report.Verification, 8)
	for _, s := range report.Stages {
		assert.Equal(t, reporting.StageFunctional, s.State)
	}
	assert.Empty(t, f.cluster.Deletes())
	assert.Empty(t, o.locker.Holders())
}

func TestVerifyRun_CheckFailureFailsRun(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)
	f.setZooKeeperGetOutput("Node does not exist: /stackctl-verify-run-2")

	report, err := o.VerifyRun(context.Background(), plan)
	require.Error(t, err)

	var failure *VerificationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "zookeeper-get-znode", failure.Check)
	assert.Equal(t, reporting.RunFailed, report.State)
	assert.Empty(t, f.cluster.Deletes(), "verification never rolls back")
}

func TestVerifyRun_UnhealthyStage(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)
	f.setKafkaDown(true)

	report, err := o.VerifyRun(context.Background(), plan)
	require.Error(t, err)

	var failure *VerificationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "probe kafka", failure.Check)
	assert.Equal(t, reporting.StageFailed, report.Stage("kafka").State)
	assert.Equal(t, reporting.StageFunctional, report.Stage("zookeeper").State)
}

func TestExpectZNodeData(t *testing.T) {
	payload := ZNodePayload("run-2")

	tests := []struct {
		name    string
		stdout  string
		wantErr bool
	}{
		{name: "data line", stdout: "WATCHER::\n\nverified-run-2\n"},
		{name: "data only", stdout: "verified-run-2"},
		{name: "missing node naming the path", stdout: "Node does not exist: /stackctl-verify-run-2", wantErr: true},
		{name: "other data", stdout: "WATCHER::\nrun-2\n", wantErr: true},
		{name: "empty", stdout: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := expectZNodeData(payload)(tt.stdout)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_ZNodeRoundTripUsesPayload(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)

	checks, _ := o.smokeChecks(plan, "run-7")
	var create, get *smokeCheck
	for i := range checks {
		switch checks[i].name {
		case "zookeeper-create-znode":
			create = &checks[i]
		case "zookeeper-get-znode":
			get = &checks[i]
		}
	}
	require.NotNil(t, create)
	require.NotNil(t, get)
	assert.Equal(t, "verified-run-7", create.command[len(create.command)-1])
	assert.Error(t, get.validate("Node does not exist: /stackctl-verify-run-7"))
}
