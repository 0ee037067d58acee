package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackctl/internal/descriptor"
	"stackctl/internal/reporting"
)

func deployed(t *testing.T, f *stackFixture) (*testOrchestrator, *Plan) {
	t.Helper()
	o := newTestOrchestrator(t, f.cluster)
	plan := mustPlan(t, f.descriptors(), time.Second)
	_, err := o.Deploy(context.Background(), plan, DeployOptions{SkipVerify: true})
	require.NoError(t, err)
	return o, plan
}

func TestRollback_ReverseOrder(t *testing.T) {
	f := newStackFixture()
	o, _ := deployed(t, f)

	result := o.Rollback(context.Background(), []*descriptor.Descriptor{f.zookeeper, f.kafka, f.ui})

	assert.True(t, result.Complete())
	assert.Equal(t, []string{"ui", "kafka", "zookeeper"}, result.RolledBack)
	assert.Equal(t, []string{"app=ui", "app=kafka", "app=zookeeper"}, f.cluster.DeletedSelectors())

	deletes := f.cluster.Deletes()
	require.Len(t, deletes, 3)
	assert.False(t, deletes[0].IncludePersistentState)
	assert.Len(t, deletes[1].Objects, 2)
	assert.Equal(t, "kafka-headless", deletes[1].Objects[0].Name)
	assert.Len(t, deletes[1].Kinds, 2)
}

func TestRollback_IgnoresCancellation(t *testing.T) {
	f := newStackFixture()
	o, _ := deployed(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := o.Rollback(ctx, []*descriptor.Descriptor{f.zookeeper, f.kafka})
	assert.True(t, result.Complete())
	assert.Equal(t, []string{"kafka", "zookeeper"}, result.RolledBack)
}

func TestRollback_NothingApplied(t *testing.T) {
	f := newStackFixture()
	o := newTestOrchestrator(t, f.cluster)

	result := o.Rollback(context.Background(), nil)
	assert.True(t, result.Complete())
	assert.Empty(t, result.RolledBack)
	assert.Empty(t, f.cluster.Deletes())
}

func TestRollbackTo(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)

	report, err := o.RollbackTo(context.Background(), plan, "zookeeper")
	require.NoError(t, err)

	assert.Equal(t, reporting.OperationRollback, report.Operation)
	assert.Equal(t, reporting.RunSucceeded, report.State)
	assert.Equal(t, []string{"ui", "kafka"}, report.Rollback.RolledBack)
	assert.Equal(t, []string{"app=ui", "app=kafka"}, f.cluster.DeletedSelectors())

	require.Len(t, report.Stages, 2)
	assert.Equal(t, "ui", report.Stages[0].Descriptor)
	assert.Equal(t, reporting.StageRolledBack, report.Stages[0].State)

	assert.True(t, f.cluster.Present(f.zookeeper.Selector))
	assert.False(t, f.cluster.Present(f.kafka.Selector))
	assert.Empty(t, o.locker.Holders())

	last, err := o.store.Last(testTarget)
	require.NoError(t, err)
	assert.Equal(t, reporting.OperationRollback, last.Operation)
}

func TestRollbackTo_LastStageIsNoop(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)

	report, err := o.RollbackTo(context.Background(), plan, "ui")
	require.NoError(t, err)
	assert.Equal(t, reporting.RunSucceeded, report.State)
	assert.Empty(t, report.Stages)
	assert.Empty(t, f.cluster.Deletes())
}

func TestRollbackTo_UnknownStage(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)

	report, err := o.RollbackTo(context.Background(), plan, "schema-registry")
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, ErrPlan))
	assert.Empty(t, f.cluster.Deletes())
}

func TestRollbackTo_Stuck(t *testing.T) {
	f := newStackFixture()
	o, plan := deployed(t, f)
	f.zookeeperWorkload.StuckOnDelete = true

	report, err := o.RollbackTo(context.Background(), plan, "")
	require.Error(t, err)

	var rollbackErr *RollbackError
	require.True(t, errors.As(err, &rollbackErr))
	assert.Equal(t, reporting.RunPartialRollbackFailure, report.State)
	assert.Equal(t, []string{"ui", "kafka"}, report.Rollback.RolledBack)
	assert.Equal(t, reporting.StageFailed, report.Stage("zookeeper").State)
}
