package kube

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func readyPod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "streaming", Labels: map[string]string{"app": "zookeeper"}},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "zookeeper"}}},
		Status: corev1.PodStatus{
			Phase:             corev1.PodRunning,
			Conditions:        []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
			ContainerStatuses: []corev1.ContainerStatus{{Name: "zookeeper", Ready: true}},
		},
	}
}

func TestIsPodReady(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*corev1.Pod)
		want   bool
	}{
		{name: "running and ready", mutate: func(*corev1.Pod) {}, want: true},
		{name: "pending", mutate: func(p *corev1.Pod) { p.Status.Phase = corev1.PodPending }},
		{name: "ready condition false", mutate: func(p *corev1.Pod) {
			p.Status.Conditions[0].Status = corev1.ConditionFalse
		}},
		{name: "no ready condition", mutate: func(p *corev1.Pod) { p.Status.Conditions = nil }},
		{name: "container statuses not reported", mutate: func(p *corev1.Pod) { p.Status.ContainerStatuses = nil }},
		{name: "one container not ready", mutate: func(p *corev1.Pod) {
			p.Status.ContainerStatuses = append(p.Status.ContainerStatuses, corev1.ContainerStatus{Name: "sidecar"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pod := readyPod("zk-0")
			tt.mutate(pod)
			assert.Equal(t, tt.want, isPodReady(pod))
		})
	}
}

func TestPodToInstance(t *testing.T) {
	started := metav1.NewTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	pod := readyPod("zk-0")
	pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{Name: "metrics"})
	pod.Status.StartTime = &started
	pod.DeletionTimestamp = &started

	inst := podToInstance(pod)
	assert.Equal(t, "zk-0", inst.Name)
	assert.Equal(t, "Running", inst.Phase)
	assert.True(t, inst.Ready)
	assert.True(t, inst.Terminating)
	assert.Equal(t, []string{"zookeeper", "metrics"}, inst.Containers)
	assert.Equal(t, started.Time, inst.StartedAt)
}
