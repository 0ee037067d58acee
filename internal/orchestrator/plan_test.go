package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/descriptor"
)

func TestBuildPlan_OrdersByDependency(t *testing.T) {
	f := newStackFixture()

	plan, err := BuildPlan([]*descriptor.Descriptor{f.ui, f.kafka, f.zookeeper}, DefaultTimeouts())
	require.NoError(t, err)

	assert.Equal(t, []string{"zookeeper", "kafka", "ui"}, plan.Names())

	stage, ok := plan.Stage("kafka")
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, stage.Timeout)
	assert.NotNil(t, stage.Probe)

	_, ok = plan.Stage("schema-registry")
	assert.False(t, ok)
}

func TestBuildPlan_Deterministic(t *testing.T) {
	f := newStackFixture()
	connect := &descriptor.Descriptor{
		Name:              "connect",
		Documents:         []descriptor.Document{newDocument("apps/v1", "Deployment", "connect")},
		Selector:          map[string]string{"app": "connect"},
		DependsOn:         []string{"kafka"},
		ExpectedInstances: 1,
		Probe:             descriptor.ProbeSpec{Type: descriptor.ProbeCount},
		Criticality:       descriptor.CriticalityStandard,
		OnProbeTimeout:    descriptor.OnProbeTimeoutFail,
	}

	for i := 0; i < 5; i++ {
		plan, err := BuildPlan([]*descriptor.Descriptor{f.ui, connect, f.kafka, f.zookeeper}, DefaultTimeouts())
		require.NoError(t, err)
		assert.Equal(t, []string{"zookeeper", "kafka", "connect", "ui"}, plan.Names())
	}
}

func TestBuildPlan_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *stackFixture)
	}{
		{
			name: "unknown dependency",
			mutate: func(f *stackFixture) {
				f.kafka.DependsOn = []string{"zk"}
			},
		},
		{
			name: "cycle",
			mutate: func(f *stackFixture) {
				f.zookeeper.DependsOn = []string{"ui"}
			},
		},
		{
			name: "unknown probe type",
			mutate: func(f *stackFixture) {
				f.ui.Probe.Type = "http"
			},
		},
		{
			name: "no expected instances",
			mutate: func(f *stackFixture) {
				f.ui.ExpectedInstances = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStackFixture()
			tt.mutate(f)

			plan, err := BuildPlan(f.descriptors(), DefaultTimeouts())
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.True(t, errors.Is(err, ErrPlan), "expected ErrPlan, got %v", err)
		})
	}
}

func TestTimeoutsFor(t *testing.T) {
	tests := []struct {
		name        string
		timeouts    Timeouts
		criticality descriptor.Criticality
		own         time.Duration
		want        time.Duration
	}{
		{name: "critical default", criticality: descriptor.CriticalityCritical, want: 10 * time.Minute},
		{name: "standard default", criticality: descriptor.CriticalityStandard, want: 5 * time.Minute},
		{name: "auxiliary default", criticality: descriptor.CriticalityAuxiliary, want: 3 * time.Minute},
		{
			name:        "configured criticality timeout",
			timeouts:    Timeouts{Auxiliary: time.Minute},
			criticality: descriptor.CriticalityAuxiliary,
			want:        time.Minute,
		},
		{
			name:        "descriptor timeout wins over criticality",
			timeouts:    Timeouts{Critical: time.Minute},
			criticality: descriptor.CriticalityCritical,
			own:         90 * time.Second,
			want:        90 * time.Second,
		},
		{
			name:        "override wins over everything",
			timeouts:    Timeouts{Override: 20 * time.Second},
			criticality: descriptor.CriticalityCritical,
			own:         90 * time.Second,
			want:        20 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &descriptor.Descriptor{Name: "x", Criticality: tt.criticality, Timeout: tt.own}
			assert.Equal(t, tt.want, tt.timeouts.For(d))
		})
	}
}

func TestPlanAfter(t *testing.T) {
	f := newStackFixture()
	plan := mustPlan(t, f.descriptors(), time.Second)

	stages, err := plan.After("zookeeper")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "kafka", stages[0].Name())
	assert.Equal(t, "ui", stages[1].Name())

	stages, err = plan.After("")
	require.NoError(t, err)
	assert.Len(t, stages, 3)

	stages, err = plan.After("ui")
	require.NoError(t, err)
	assert.Empty(t, stages)

	_, err = plan.After("connect")
	var unknown *UnknownStageError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "connect", unknown.Name)
	assert.True(t, errors.Is(err, ErrPlan))
}

func TestPlanSummary(t *testing.T) {
	f := newStackFixture()
	plan := mustPlan(t, f.descriptors(), 0)

	summary := plan.Summary()
	require.Len(t, summary, 3)

	assert.Equal(t, 1, summary[0].Order)
	assert.Equal(t, "zookeeper", summary[0].Descriptor)
	assert.Equal(t, []string{"Service/zookeeper-headless", "StatefulSet/zookeeper"}, summary[0].Documents)
	assert.Equal(t, "zookeeper", summary[0].Probe)
	assert.Equal(t, "10m0s", summary[0].Timeout)

	assert.Equal(t, []string{"kafka"}, summary[2].DependsOn)
	assert.Equal(t, "auxiliary", summary[2].Criticality)
	assert.Equal(t, "3m0s", summary[2].Timeout)
}
