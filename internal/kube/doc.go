// Package kube is the client-go backed implementation of the cluster handle
// and of the cross-process lock.
//
// # Clients
//
// NewClients loads kubeconfig the way kubectl does: an empty context selects
// the current one and an empty namespace falls back to the context's
// namespace, then "default". The resolved pair forms the target identity
// "context/namespace" used for locking and history.
//
// # Cluster
//
// Cluster implements cluster.Cluster:
//
//   - Apply uses server-side apply with a fixed field manager and forced
//     ownership. Documents without a namespace land in the target namespace.
//     Kinds unknown to the cached discovery trigger one discovery refresh.
//   - ListInstances lists pods by label selector.
//   - Exec streams a command into a pod over SPDY.
//   - Delete removes named objects, then sweeps each kind by selector with
//     background propagation. PersistentVolumeClaims are only swept when
//     persistent state removal was requested.
//   - Remaining reads the same set back and names what still exists.
//
// # LeaseLocker
//
// LeaseLocker stores one coordination.k8s.io Lease per target in the target
// namespace. The holder renews it while the run is in progress; an expired
// lease can be taken over by the next run. A holder that sees its lease
// taken over, deleted or left unrenewed for a full duration reports
// lock.ErrLost on Lost.
//
// # Usage Example
//
//	clients, err := kube.NewClients("kind-dev", "streaming")
//	if err != nil {
//	    return err
//	}
//	c := kube.NewCluster(clients, "stackctl")
//	locker := kube.NewLeaseLocker(clients.Core, clients.Namespace, "stackctl-lock", 30*time.Second)
package kube
