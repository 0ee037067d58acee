package kube

import (
	corev1 "k8s.io/api/core/v1"

	"stackctl/internal/cluster"
)

// isPodReady requires the pod to be running, to carry a true Ready condition
// and to have every container reporting ready.
func isPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	isReady := false
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			isReady = true
			break
		}
	}
	if !isReady {
		return false
	}
	// Running but container statuses not yet reported, might be initializing
	if len(pod.Status.ContainerStatuses) == 0 && len(pod.Spec.Containers) > 0 {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

func podToInstance(pod *corev1.Pod) cluster.Instance {
	inst := cluster.Instance{
		Name:        pod.Name,
		Phase:       string(pod.Status.Phase),
		Ready:       isPodReady(pod),
		Terminating: pod.DeletionTimestamp != nil,
	}
	for _, c := range pod.Spec.Containers {
		inst.Containers = append(inst.Containers, c.Name)
	}
	if pod.Status.StartTime != nil {
		inst.StartedAt = pod.Status.StartTime.Time
	}
	return inst
}
