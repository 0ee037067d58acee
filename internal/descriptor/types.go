// Package descriptor defines the deployable units handled by stackctl and
// loads them from a descriptors file.
//
// A Descriptor names a set of manifests, the label selector that finds its
// running instances, the descriptors it depends on and the probe that decides
// when it is functional. Descriptors are immutable once loaded.
package descriptor

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Criticality controls the default stage timeout.
type Criticality string

const (
	CriticalityCritical  Criticality = "critical"
	CriticalityStandard  Criticality = "standard"
	CriticalityAuxiliary Criticality = "auxiliary"
)

// Valid reports whether c is a known criticality.
func (c Criticality) Valid() bool {
	switch c {
	case CriticalityCritical, CriticalityStandard, CriticalityAuxiliary:
		return true
	}
	return false
}

// ProbeTimeoutPolicy decides what happens when a stage does not become
// functional before its timeout.
type ProbeTimeoutPolicy string

const (
	// OnProbeTimeoutFail fails the stage and rolls the run back.
	OnProbeTimeoutFail ProbeTimeoutPolicy = "fail"
	// OnProbeTimeoutContinue records a warning and proceeds with the plan.
	OnProbeTimeoutContinue ProbeTimeoutPolicy = "continue"
)

// Valid reports whether p is a known policy.
func (p ProbeTimeoutPolicy) Valid() bool {
	return p == OnProbeTimeoutFail || p == OnProbeTimeoutContinue
}

// Probe strategy names understood by the health package.
const (
	ProbeCount     = "count"
	ProbeExec      = "exec"
	ProbeZooKeeper = "zookeeper"
	ProbeKafka     = "kafka"
)

// ProbeSpec selects and parameterises the health probe of a descriptor.
type ProbeSpec struct {
	Type string `yaml:"type" json:"type"`
	// Command is run inside every instance by the exec probe.
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`
	// Expect must be a substring of the exec probe's stdout.
	Expect string `yaml:"expect,omitempty" json:"expect,omitempty"`
	// Port of the coordination service client listener.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
	// Bootstrap is the broker address passed to the kafka tooling.
	Bootstrap string `yaml:"bootstrap,omitempty" json:"bootstrap,omitempty"`
	// Container to exec into; empty selects the first container.
	Container string `yaml:"container,omitempty" json:"container,omitempty"`
}

// Document is one decoded manifest.
type Document struct {
	Source string
	Object *unstructured.Unstructured
}

func (d Document) GVK() schema.GroupVersionKind {
	return d.Object.GroupVersionKind()
}

func (d Document) Name() string {
	return d.Object.GetName()
}

func (d Document) Namespace() string {
	return d.Object.GetNamespace()
}

// String returns "Kind/name", the form used in logs and errors.
func (d Document) String() string {
	return fmt.Sprintf("%s/%s", d.Object.GetKind(), d.Object.GetName())
}

// Descriptor is one deployable unit.
type Descriptor struct {
	Name              string
	Documents         []Document
	Selector          map[string]string
	DependsOn         []string
	ExpectedInstances int
	Probe             ProbeSpec
	// Timeout overrides the criticality-derived stage timeout when non-zero.
	Timeout        time.Duration
	Criticality    Criticality
	OnProbeTimeout ProbeTimeoutPolicy
}

// Kinds returns the distinct kinds of the descriptor's documents in the order
// they first appear.
func (d *Descriptor) Kinds() []schema.GroupVersionKind {
	seen := make(map[schema.GroupVersionKind]struct{}, len(d.Documents))
	var kinds []schema.GroupVersionKind
	for _, doc := range d.Documents {
		gvk := doc.GVK()
		if _, ok := seen[gvk]; ok {
			continue
		}
		seen[gvk] = struct{}{}
		kinds = append(kinds, gvk)
	}
	return kinds
}

// SelectorString renders the selector in label selector syntax with keys in
// sorted order.
func (d *Descriptor) SelectorString() string {
	return labels.SelectorFromSet(labels.Set(d.Selector)).String()
}
