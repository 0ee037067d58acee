package kube

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"stackctl/internal/cluster"
	"stackctl/pkg/logging"
)

// NewSPDYExecutor is overridable for tests.
var NewSPDYExecutor = remotecommand.NewSPDYExecutor

// deleteConcurrency bounds parallel kind sweeps during Delete.
const deleteConcurrency = 4

var persistentVolumeClaimGVK = schema.GroupVersionKind{Version: "v1", Kind: "PersistentVolumeClaim"}

// Cluster implements cluster.Cluster on top of client-go for one namespace.
type Cluster struct {
	core         kubernetes.Interface
	dynamic      dynamic.Interface
	mapper       meta.ResettableRESTMapper
	restConfig   *rest.Config
	namespace    string
	fieldManager string

	// resetMu serialises mapper resets when several sweeps miss at once.
	resetMu sync.Mutex
}

var _ cluster.Cluster = (*Cluster)(nil)

// NewCluster binds clients to their resolved namespace. Documents without a
// namespace are applied there.
func NewCluster(clients *Clients, fieldManager string) *Cluster {
	return &Cluster{
		core:         clients.Core,
		dynamic:      clients.Dynamic,
		mapper:       clients.Mapper,
		restConfig:   clients.RESTConfig,
		namespace:    clients.Namespace,
		fieldManager: fieldManager,
	}
}

// Namespace returns the namespace the cluster operates in.
func (c *Cluster) Namespace() string {
	return c.namespace
}

// mappingFor resolves gvk, refreshing discovery once when the kind is
// unknown so that kinds registered earlier in the same run are found.
func (c *Cluster) mappingFor(gvk schema.GroupVersionKind) (*meta.RESTMapping, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if meta.IsNoMatchError(err) {
		c.resetMu.Lock()
		c.mapper.Reset()
		c.resetMu.Unlock()
		mapping, err = c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	}
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

func (c *Cluster) resourceClient(mapping *meta.RESTMapping, namespace string) dynamic.ResourceInterface {
	if mapping.Scope.Name() != meta.RESTScopeNameNamespace {
		return c.dynamic.Resource(mapping.Resource)
	}
	if namespace == "" {
		namespace = c.namespace
	}
	return c.dynamic.Resource(mapping.Resource).Namespace(namespace)
}

// Apply uses server-side apply with forced ownership, so re-applying the same
// document is an update and never a create conflict.
func (c *Cluster) Apply(ctx context.Context, doc *unstructured.Unstructured, opts cluster.ApplyOptions) error {
	obj := doc.DeepCopy()
	gvk := obj.GroupVersionKind()
	mapping, err := c.mappingFor(gvk)
	if err != nil {
		return fmt.Errorf("no API mapping for %s: %w", gvk, err)
	}
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace && obj.GetNamespace() == "" {
		obj.SetNamespace(c.namespace)
	}
	obj.SetManagedFields(nil)
	obj.SetResourceVersion("")

	applyOpts := metav1.ApplyOptions{FieldManager: c.fieldManager, Force: true}
	if opts.DryRun {
		applyOpts.DryRun = []string{metav1.DryRunAll}
	}

	if _, err := c.resourceClient(mapping, obj.GetNamespace()).Apply(ctx, obj.GetName(), obj, applyOpts); err != nil {
		return fmt.Errorf("server-side apply of %s/%s: %w", obj.GetKind(), obj.GetName(), err)
	}
	logging.Debug("Kube", "Applied %s/%s in %q (dryRun=%t)", obj.GetKind(), obj.GetName(), obj.GetNamespace(), opts.DryRun)
	return nil
}

func (c *Cluster) ListInstances(ctx context.Context, selector map[string]string) ([]cluster.Instance, error) {
	podList, err := c.core.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %w", c.namespace, err)
	}
	instances := make([]cluster.Instance, 0, len(podList.Items))
	for i := range podList.Items {
		instances = append(instances, podToInstance(&podList.Items[i]))
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
	return instances, nil
}

func (c *Cluster) Exec(ctx context.Context, req cluster.ExecRequest) (cluster.ExecResult, error) {
	container := req.Container
	if container == "" {
		pod, err := c.core.CoreV1().Pods(c.namespace).Get(ctx, req.Instance, metav1.GetOptions{})
		if err != nil {
			return cluster.ExecResult{}, fmt.Errorf("failed to get pod %s: %w", req.Instance, err)
		}
		if len(pod.Spec.Containers) == 0 {
			return cluster.ExecResult{}, fmt.Errorf("pod %s has no containers", req.Instance)
		}
		container = pod.Spec.Containers[0].Name
	}

	execReq := c.core.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(c.namespace).
		Name(req.Instance).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   req.Command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := NewSPDYExecutor(c.restConfig, http.MethodPost, execReq.URL())
	if err != nil {
		return cluster.ExecResult{}, fmt.Errorf("failed to create executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr})
	res := cluster.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		detail := strings.TrimSpace(res.Stderr)
		if detail != "" {
			return res, fmt.Errorf("exec %q in %s: %w: %s", strings.Join(req.Command, " "), req.Instance, err, detail)
		}
		return res, fmt.Errorf("exec %q in %s: %w", strings.Join(req.Command, " "), req.Instance, err)
	}
	return res, nil
}

// Delete removes the named objects and sweeps every requested kind by
// selector, one goroutine per kind. Every kind is attempted even when one
// fails; the first error is returned.
func (c *Cluster) Delete(ctx context.Context, req cluster.DeleteRequest) error {
	propagation := metav1.DeletePropagationBackground
	deleteOpts := metav1.DeleteOptions{PropagationPolicy: &propagation}

	var g errgroup.Group
	g.SetLimit(deleteConcurrency)

	for _, ref := range req.Objects {
		ref := ref
		g.Go(func() error {
			return c.deleteObject(ctx, ref, deleteOpts)
		})
	}

	if len(req.Selector) > 0 {
		selector := labels.SelectorFromSet(req.Selector).String()
		kinds := append([]schema.GroupVersionKind(nil), req.Kinds...)
		if req.IncludePersistentState {
			kinds = append(kinds, persistentVolumeClaimGVK)
		}
		for _, gvk := range kinds {
			gvk := gvk
			g.Go(func() error {
				return c.sweep(ctx, gvk, selector, deleteOpts)
			})
		}
	}

	return g.Wait()
}

func (c *Cluster) deleteObject(ctx context.Context, ref cluster.ObjectRef, opts metav1.DeleteOptions) error {
	mapping, err := c.mappingFor(ref.GVK)
	if meta.IsNoMatchError(err) {
		// The kind itself is gone, so is the object.
		return nil
	}
	if err != nil {
		return fmt.Errorf("no API mapping for %s: %w", ref.GVK, err)
	}
	err = c.resourceClient(mapping, ref.Namespace).Delete(ctx, ref.Name, opts)
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", ref.GVK.Kind, ref.Name, err)
	}
	return nil
}

// Remaining lists what a Delete of req has not removed yet. Kinds without
// an API mapping have nothing left.
func (c *Cluster) Remaining(ctx context.Context, req cluster.DeleteRequest) ([]string, error) {
	var out []string
	for _, ref := range req.Objects {
		mapping, err := c.mappingFor(ref.GVK)
		if meta.IsNoMatchError(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("no API mapping for %s: %w", ref.GVK, err)
		}
		_, err = c.resourceClient(mapping, ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get %s/%s: %w", ref.GVK.Kind, ref.Name, err)
		}
		out = appendUnique(out, ref.GVK.Kind+"/"+ref.Name)
	}

	if len(req.Selector) == 0 {
		return out, nil
	}
	selector := labels.SelectorFromSet(req.Selector).String()
	kinds := append([]schema.GroupVersionKind(nil), req.Kinds...)
	if req.IncludePersistentState {
		kinds = append(kinds, persistentVolumeClaimGVK)
	}
	for _, gvk := range kinds {
		mapping, err := c.mappingFor(gvk)
		if meta.IsNoMatchError(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("no API mapping for %s: %w", gvk, err)
		}
		list, err := c.resourceClient(mapping, "").List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s with %s: %w", gvk.Kind, selector, err)
		}
		for _, item := range list.Items {
			out = appendUnique(out, gvk.Kind+"/"+item.GetName())
		}
	}
	return out, nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func (c *Cluster) sweep(ctx context.Context, gvk schema.GroupVersionKind, selector string, opts metav1.DeleteOptions) error {
	mapping, err := c.mappingFor(gvk)
	if meta.IsNoMatchError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("no API mapping for %s: %w", gvk, err)
	}

	client := c.resourceClient(mapping, "")
	list, err := client.List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("failed to list %s with %s: %w", gvk.Kind, selector, err)
	}
	for _, item := range list.Items {
		if err := client.Delete(ctx, item.GetName(), opts); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete %s/%s: %w", gvk.Kind, item.GetName(), err)
		}
		logging.Debug("Kube", "Deleted %s/%s", gvk.Kind, item.GetName())
	}
	return nil
}
