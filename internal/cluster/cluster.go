// Package cluster defines the handle the orchestrator uses to talk to a
// target cluster. The orchestrator, the health probes and the rollback and
// teardown controllers only ever use these operations, so any backend that
// can apply a document, list and exec into instances and delete by selector
// can be driven by stackctl.
package cluster

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Cluster is the abstract target of a run.
type Cluster interface {
	// Apply creates or updates a document. Re-applying an unchanged document
	// must succeed without side effects.
	Apply(ctx context.Context, doc *unstructured.Unstructured, opts ApplyOptions) error
	// ListInstances returns the runtime instances matching selector.
	ListInstances(ctx context.Context, selector map[string]string) ([]Instance, error)
	// Exec runs a command inside one instance. A non-zero exit status is an
	// error.
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
	// Delete removes the named objects and every object of the requested
	// kinds matching selector. Objects that are already absent are not an
	// error.
	Delete(ctx context.Context, req DeleteRequest) error
	// Remaining returns "Kind/name" for every object req would still delete:
	// the named objects that exist and the selected objects of req.Kinds.
	Remaining(ctx context.Context, req DeleteRequest) ([]string, error)
}

// ApplyOptions tunes a single Apply call.
type ApplyOptions struct {
	// DryRun asks the server to validate without persisting.
	DryRun bool
}

// Instance is one running unit of a descriptor, a pod on Kubernetes.
type Instance struct {
	Name        string    `json:"name"`
	Phase       string    `json:"phase"`
	Ready       bool      `json:"ready"`
	Terminating bool      `json:"terminating,omitempty"`
	Containers  []string  `json:"containers,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// ExecRequest addresses a command to one instance.
type ExecRequest struct {
	Instance string
	// Container defaults to the instance's first container.
	Container string
	Command   []string
}

// ExecResult carries the captured output of an Exec call.
type ExecResult struct {
	Stdout string
	Stderr string
}

// ObjectRef names one object.
type ObjectRef struct {
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
}

// DeleteRequest selects what Delete removes: the named objects, plus every
// object of Kinds carrying the selector labels.
type DeleteRequest struct {
	Selector map[string]string
	Objects  []ObjectRef
	Kinds    []schema.GroupVersionKind
	// IncludePersistentState additionally removes the volume claims bound to
	// the selected instances.
	IncludePersistentState bool
}
