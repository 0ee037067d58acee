// Package clustertest provides an in-memory [cluster.Cluster] for tests of
// code that drives a cluster handle.
package clustertest

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"

	"stackctl/internal/cluster"
)

// ExecFunc answers an Exec call for one instance.
type ExecFunc func(instance string, command []string) (cluster.ExecResult, error)

// Workload simulates the instances behind one selector.
type Workload struct {
	Selector map[string]string
	// Trigger is the document name whose Apply makes the instances visible.
	// An empty Trigger makes them visible immediately.
	Trigger   string
	Instances []cluster.Instance
	Exec      ExecFunc
	// StuckOnDelete keeps instances and claims in place when deleted.
	StuckOnDelete bool

	present bool
	claims  bool
}

// Fake is a goroutine-safe in-memory cluster.
type Fake struct {
	mu        sync.Mutex
	workloads map[string]*Workload
	applied   []string
	objects   map[string]bool
	held      map[string]bool
	deletes   []cluster.DeleteRequest
	dryRuns   int

	// ApplyErr, when set, is consulted before every non-dry-run Apply.
	ApplyErr func(doc *unstructured.Unstructured) error
	// OnList is called at the start of every ListInstances.
	OnList func(selector map[string]string)
}

var _ cluster.Cluster = (*Fake)(nil)

// New creates a fake cluster with the given workloads.
func New(workloads ...*Workload) *Fake {
	f := &Fake{
		workloads: make(map[string]*Workload),
		objects:   make(map[string]bool),
		held:      make(map[string]bool),
	}
	for _, w := range workloads {
		f.AddWorkload(w)
	}
	return f
}

// AddWorkload registers or replaces the workload for w.Selector.
func (f *Fake) AddWorkload(w *Workload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w.Trigger == "" {
		w.present = true
		w.claims = true
	}
	f.workloads[key(w.Selector)] = w
}

// SetReady flips the readiness of every instance behind selector.
func (f *Fake) SetReady(selector map[string]string, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.workloads[key(selector)]; ok {
		for i := range w.Instances {
			w.Instances[i].Ready = ready
		}
	}
}

func (f *Fake) Apply(_ context.Context, doc *unstructured.Unstructured, opts cluster.ApplyOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.DryRun {
		f.dryRuns++
		return nil
	}
	if f.ApplyErr != nil {
		if err := f.ApplyErr(doc); err != nil {
			return err
		}
	}
	ref := fmt.Sprintf("%s/%s", doc.GetKind(), doc.GetName())
	f.applied = append(f.applied, ref)
	f.objects[ref] = true
	for _, w := range f.workloads {
		if w.Trigger == doc.GetName() {
			w.present = true
			w.claims = true
		}
	}
	return nil
}

func (f *Fake) ListInstances(ctx context.Context, selector map[string]string) ([]cluster.Instance, error) {
	if f.OnList != nil {
		f.OnList(selector)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[key(selector)]
	if !ok || !w.present {
		return nil, nil
	}
	out := make([]cluster.Instance, len(w.Instances))
	copy(out, w.Instances)
	return out, nil
}

func (f *Fake) Exec(ctx context.Context, req cluster.ExecRequest) (cluster.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return cluster.ExecResult{}, err
	}
	f.mu.Lock()
	var exec ExecFunc
	found := false
	for _, w := range f.workloads {
		if !w.present {
			continue
		}
		for _, inst := range w.Instances {
			if inst.Name == req.Instance {
				exec = w.Exec
				found = true
			}
		}
	}
	f.mu.Unlock()

	if !found {
		return cluster.ExecResult{}, fmt.Errorf("instance %q not found", req.Instance)
	}
	if exec == nil {
		return cluster.ExecResult{}, nil
	}
	return exec(req.Instance, req.Command)
}

func (f *Fake) Delete(_ context.Context, req cluster.DeleteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, req)
	for _, ref := range req.Objects {
		name := objectKey(ref)
		if !f.held[name] {
			delete(f.objects, name)
		}
	}
	w, ok := f.workloads[key(req.Selector)]
	if !ok || w.StuckOnDelete {
		return nil
	}
	w.present = false
	if req.IncludePersistentState {
		w.claims = false
	}
	return nil
}

// Remaining reports the named objects of req that are still present,
// followed by the claims behind req.Selector when persistent state is
// requested.
func (f *Fake) Remaining(ctx context.Context, req cluster.DeleteRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ref := range req.Objects {
		if name := objectKey(ref); f.objects[name] {
			out = append(out, name)
		}
	}
	if req.IncludePersistentState {
		if w, ok := f.workloads[key(req.Selector)]; ok && w.claims {
			out = append(out, "PersistentVolumeClaim/"+key(req.Selector))
		}
	}
	return out, nil
}

// HoldObject keeps the object named "Kind/name" in place across deletes, as a
// finalizer that never completes would.
func (f *Fake) HoldObject(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[ref] = true
}

// HasObject reports whether the object named "Kind/name" exists.
func (f *Fake) HasObject(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[ref]
}

// Applied returns "Kind/name" for every applied document, in order.
func (f *Fake) Applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

// DryRuns returns how many dry-run applies were received.
func (f *Fake) DryRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dryRuns
}

// Deletes returns every delete request, in order.
func (f *Fake) Deletes() []cluster.DeleteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cluster.DeleteRequest(nil), f.deletes...)
}

// DeletedSelectors returns the selector of every delete request rendered as
// a label selector string, in order.
func (f *Fake) DeletedSelectors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.deletes))
	for _, d := range f.deletes {
		out = append(out, key(d.Selector))
	}
	return out
}

// HasPersistentState reports whether the claims behind selector still exist.
func (f *Fake) HasPersistentState(selector map[string]string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[key(selector)]
	return ok && w.claims
}

// Present reports whether the instances behind selector are visible.
func (f *Fake) Present(selector map[string]string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[key(selector)]
	return ok && w.present
}

func objectKey(ref cluster.ObjectRef) string {
	return ref.GVK.Kind + "/" + ref.Name
}

func key(selector map[string]string) string {
	return labels.SelectorFromSet(labels.Set(selector)).String()
}

// ReadyInstances builds n ready, running instances named prefix-0..prefix-n-1.
func ReadyInstances(prefix string, n int) []cluster.Instance {
	out := make([]cluster.Instance, n)
	for i := range out {
		out[i] = cluster.Instance{
			Name:       fmt.Sprintf("%s-%d", prefix, i),
			Phase:      "Running",
			Ready:      true,
			Containers: []string{prefix},
		}
	}
	return out
}
