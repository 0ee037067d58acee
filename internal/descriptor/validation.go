package descriptor

import (
	"fmt"

	"stackctl/internal/dependency"
)

// ValidationError reports a malformed descriptor. It matches
// dependency.ErrPlan so every load failure is classified as an invalid plan.
type ValidationError struct {
	Descriptor string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Descriptor == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("descriptor %q: invalid %s: %s", e.Descriptor, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == dependency.ErrPlan }

// Validate checks the syntactic constraints of a descriptor set. Dependency
// references are checked later by the graph builder.
func Validate(descriptors []*Descriptor) error {
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if d.Name == "" {
			return &ValidationError{Field: "name", Reason: "name must not be empty"}
		}
		if _, dup := seen[d.Name]; dup {
			return &ValidationError{Descriptor: d.Name, Field: "name", Reason: "duplicate descriptor name"}
		}
		seen[d.Name] = struct{}{}

		if err := validateOne(d); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(d *Descriptor) error {
	invalid := func(field, format string, args ...interface{}) error {
		return &ValidationError{Descriptor: d.Name, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if len(d.Selector) == 0 {
		return invalid("selector", "selector must not be empty")
	}
	if d.ExpectedInstances < 1 {
		return invalid("expectedInstances", "must be at least 1, got %d", d.ExpectedInstances)
	}
	if !d.Criticality.Valid() {
		return invalid("criticality", "unknown criticality %q", d.Criticality)
	}
	if !d.OnProbeTimeout.Valid() {
		return invalid("onProbeTimeout", "unknown policy %q", d.OnProbeTimeout)
	}
	if d.Timeout < 0 {
		return invalid("timeout", "must not be negative")
	}
	if d.Probe.Type == ProbeExec && len(d.Probe.Command) == 0 {
		return invalid("probe", "exec probe requires a command")
	}
	if len(d.Documents) == 0 {
		return invalid("manifests", "at least one manifest document is required")
	}
	for _, doc := range d.Documents {
		if doc.Object.GetAPIVersion() == "" || doc.Object.GetKind() == "" {
			return invalid("manifests", "%s: document without apiVersion or kind", doc.Source)
		}
		if doc.Name() == "" {
			return invalid("manifests", "%s: %s has no metadata.name", doc.Source, doc.Object.GetKind())
		}
	}
	for _, dep := range d.DependsOn {
		if dep == "" {
			return invalid("dependsOn", "empty dependency name")
		}
	}
	return nil
}
