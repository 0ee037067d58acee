package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"stackctl/internal/cluster"
	"stackctl/internal/cluster/clustertest"
	"stackctl/internal/descriptor"
	"stackctl/internal/lock"
	"stackctl/internal/reporting"
	"stackctl/internal/store"
)

const testTarget = "kind-dev/streaming"

func newDocument(apiVersion, kind, name string) descriptor.Document {
	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion(apiVersion)
	obj.SetKind(kind)
	obj.SetName(name)
	return descriptor.Document{Source: name + ".yaml", Object: obj}
}

// stackFixture is a fake cluster running ZooKeeper, Kafka and a UI behind
// scripted exec answers.
type stackFixture struct {
	cluster   *clustertest.Fake
	zookeeper *descriptor.Descriptor
	kafka     *descriptor.Descriptor
	ui        *descriptor.Descriptor

	zookeeperWorkload *clustertest.Workload

	mu        sync.Mutex
	kafkaDown bool
	// zkGetOutput, when set, replaces the answer to "zkCli.sh get".
	zkGetOutput *string
	topics      map[string]bool
	znodes      map[string]string
}

func newStackFixture() *stackFixture {
	f := &stackFixture{topics: map[string]bool{}, znodes: map[string]string{}}

	f.zookeeper = &descriptor.Descriptor{
		Name: "zookeeper",
		Documents: []descriptor.Document{
			newDocument("v1", "Service", "zookeeper-headless"),
			newDocument("apps/v1", "StatefulSet", "zookeeper"),
		},
		Selector:          map[string]string{"app": "zookeeper"},
		ExpectedInstances: 3,
		Probe:             descriptor.ProbeSpec{Type: descriptor.ProbeZooKeeper},
		Criticality:       descriptor.CriticalityCritical,
		OnProbeTimeout:    descriptor.OnProbeTimeoutFail,
	}
	f.kafka = &descriptor.Descriptor{
		Name: "kafka",
		Documents: []descriptor.Document{
			newDocument("v1", "Service", "kafka-headless"),
			newDocument("apps/v1", "StatefulSet", "kafka"),
		},
		Selector:          map[string]string{"app": "kafka"},
		DependsOn:         []string{"zookeeper"},
		ExpectedInstances: 3,
		Probe:             descriptor.ProbeSpec{Type: descriptor.ProbeKafka},
		Criticality:       descriptor.CriticalityCritical,
		OnProbeTimeout:    descriptor.OnProbeTimeoutFail,
	}
	f.ui = &descriptor.Descriptor{
		Name: "ui",
		Documents: []descriptor.Document{
			newDocument("apps/v1", "Deployment", "ui"),
		},
		Selector:          map[string]string{"app": "ui"},
		DependsOn:         []string{"kafka"},
		ExpectedInstances: 1,
		Probe:             descriptor.ProbeSpec{Type: descriptor.ProbeCount},
		Criticality:       descriptor.CriticalityAuxiliary,
		OnProbeTimeout:    descriptor.OnProbeTimeoutFail,
	}

	f.zookeeperWorkload = &clustertest.Workload{
		Selector:  f.zookeeper.Selector,
		Trigger:   "zookeeper",
		Instances: clustertest.ReadyInstances("zookeeper", 3),
		Exec:      f.zookeeperExec,
	}
	f.cluster = clustertest.New(
		f.zookeeperWorkload,
		&clustertest.Workload{
			Selector:  f.kafka.Selector,
			Trigger:   "kafka",
			Instances: clustertest.ReadyInstances("kafka", 3),
			Exec:      f.kafkaExec,
		},
		&clustertest.Workload{
			Selector:  f.ui.Selector,
			Trigger:   "ui",
			Instances: clustertest.ReadyInstances("ui", 1),
		},
	)
	return f
}

func (f *stackFixture) descriptors() []*descriptor.Descriptor {
	return []*descriptor.Descriptor{f.zookeeper, f.kafka, f.ui}
}

func (f *stackFixture) setKafkaDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kafkaDown = down
}

func (f *stackFixture) setZooKeeperGetOutput(out string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zkGetOutput = &out
}

func (f *stackFixture) zookeeperExec(instance string, command []string) (cluster.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := strings.Join(command, " ")
	switch {
	case strings.Contains(line, "echo ruok"):
		return cluster.ExecResult{Stdout: "imok"}, nil
	case strings.Contains(line, "echo srvr"):
		mode := "follower"
		if instance == "zookeeper-0" {
			mode = "leader"
		}
		return cluster.ExecResult{Stdout: "Zookeeper version: 3.8.4\nMode: " + mode + "\nNode count: 5\n"}, nil
	case command[0] == "zkCli.sh":
		path := command[4]
		switch command[3] {
		case "create":
			f.znodes[path] = command[5]
			return cluster.ExecResult{Stdout: "Created " + path}, nil
		case "get":
			if f.zkGetOutput != nil {
				return cluster.ExecResult{Stdout: *f.zkGetOutput}, nil
			}
			data, ok := f.znodes[path]
			if !ok {
				return cluster.ExecResult{Stdout: "Node does not exist: " + path}, nil
			}
			return cluster.ExecResult{Stdout: "WATCHER::\n" + data + "\n"}, nil
		case "delete":
			delete(f.znodes, path)
			return cluster.ExecResult{}, nil
		}
	}
	return cluster.ExecResult{Stdout: line}, nil
}

func (f *stackFixture) kafkaExec(_ string, command []string) (cluster.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch command[0] {
	case "kafka-broker-api-versions.sh":
		if f.kafkaDown {
			return cluster.ExecResult{}, errors.New("command terminated with exit code 1")
		}
		var out strings.Builder
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&out, "kafka-%d.kafka-headless:9092 (id: %d rack: null) -> (\n\tProduce(0): 0 to 9 [usable: 9],\n)\n", i, i)
		}
		return cluster.ExecResult{Stdout: out.String()}, nil
	case "kafka-topics.sh":
		args := command[3:]
		switch args[0] {
		case "--create":
			f.topics[args[2]] = true
			return cluster.ExecResult{Stdout: "Created topic " + args[2] + "."}, nil
		case "--list":
			var names []string
			for name := range f.topics {
				names = append(names, name)
			}
			return cluster.ExecResult{Stdout: strings.Join(names, "\n") + "\n"}, nil
		case "--delete":
			delete(f.topics, args[2])
			return cluster.ExecResult{}, nil
		}
	}
	return cluster.ExecResult{Stdout: strings.Join(command, " ")}, nil
}

func (f *stackFixture) topicCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics)
}

// failingStore rejects every save.
type failingStore struct {
	store.Store
	saves atomic.Int32
}

func (s *failingStore) Save(*reporting.RunReport) error {
	s.saves.Add(1)
	return errors.New("disk full")
}

// testOrchestrator bundles an orchestrator with the collaborators tests
// inspect.
type testOrchestrator struct {
	*Orchestrator
	locker   *lock.MemoryLocker
	store    store.Store
	recorder *reporting.Recorder
}

func newTestOrchestrator(t *testing.T, c cluster.Cluster, mutate ...func(*Config)) *testOrchestrator {
	t.Helper()

	var runs atomic.Int32
	to := &testOrchestrator{
		locker:   lock.NewMemoryLocker(),
		store:    store.NewMemoryStore(),
		recorder: &reporting.Recorder{},
	}
	cfg := Config{
		Cluster:  c,
		Locker:   to.locker,
		Target:   testTarget,
		Holder:   "test",
		Reporter: to.recorder,
		Store:    to.store,
		Polling: Polling{
			BaseInterval:    2 * time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			RollbackTimeout: 150 * time.Millisecond,
		},
		NewRunID: func() string {
			return fmt.Sprintf("run-%d", runs.Add(1))
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	to.Orchestrator = New(cfg)
	return to
}

func mustPlan(t *testing.T, descriptors []*descriptor.Descriptor, probeTimeout time.Duration) *Plan {
	t.Helper()
	plan, err := BuildPlan(descriptors, Timeouts{Override: probeTimeout})
	require.NoError(t, err)
	return plan
}

func stageStates(report *reporting.RunReport) map[string]reporting.StageState {
	out := make(map[string]reporting.StageState, len(report.Stages))
	for _, s := range report.Stages {
		out[s.Descriptor] = s.State
	}
	return out
}

func historyStates(s *reporting.StageResult) []reporting.StageState {
	out := make([]reporting.StageState, 0, len(s.History))
	for _, h := range s.History {
		out = append(out, h.State)
	}
	return out
}

// losableLocker hands out leases the test can take away with lose.
type losableLocker struct {
	lost chan error
	once sync.Once
}

func newLosableLocker() *losableLocker {
	return &losableLocker{lost: make(chan error)}
}

func (l *losableLocker) Acquire(_ context.Context, target, holder string) (lock.Lease, error) {
	return &losableLease{target: target, holder: holder, lost: l.lost}, nil
}

// lose hands the loss to the run watching the lease and gives it a moment
// to cancel. Only the first call has an effect.
func (l *losableLocker) lose() {
	l.once.Do(func() {
		select {
		case l.lost <- fmt.Errorf("%w: lease taken over by run-other", lock.ErrLost):
			time.Sleep(20 * time.Millisecond)
		case <-time.After(time.Second):
		}
	})
}

type losableLease struct {
	target, holder string
	lost           chan error
}

func (l *losableLease) Target() string                { return l.target }
func (l *losableLease) Holder() string                { return l.holder }
func (l *losableLease) Lost() <-chan error            { return l.lost }
func (l *losableLease) Release(context.Context) error { return nil }
