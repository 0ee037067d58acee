// Package health decides how far a deployed descriptor has progressed.
//
// A Probe inspects a descriptor through the cluster handle and returns one of
// NotFound, Scheduled, Ready or Functional. Functional is the only status that
// lets a deployment move on to the next stage. Probes are selected by the
// descriptor's probe type through a registry, and Poller re-runs a check with
// exponential back-off until it succeeds or its timeout expires.
package health

import (
	"context"
	"errors"
	"fmt"

	"stackctl/internal/cluster"
	"stackctl/internal/descriptor"
)

// Status is the observed progress of a descriptor. Values are ordered.
type Status int

const (
	NotFound Status = iota
	Scheduled
	Ready
	Functional
)

func (s Status) String() string {
	switch s {
	case NotFound:
		return "NotFound"
	case Scheduled:
		return "Scheduled"
	case Ready:
		return "Ready"
	case Functional:
		return "Functional"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Probe failure classes. Both are retried until the stage times out;
// malformed results are additionally recorded as stage diagnostics.
var (
	ErrTransient = errors.New("transient probe failure")
	ErrMalformed = errors.New("malformed probe response")
)

// Result is the outcome of one probe check.
type Result struct {
	Status  Status
	Message string
	// Err explains why a stronger status was not reached. It wraps
	// ErrTransient or ErrMalformed.
	Err error
}

// Probe checks one descriptor.
type Probe interface {
	Check(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) Result
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) Result

func (f ProbeFunc) Check(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) Result {
	return f(ctx, c, d)
}

func transientf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

func malformedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// IsMalformed reports whether r failed on unexpected output.
func (r Result) IsMalformed() bool {
	return errors.Is(r.Err, ErrMalformed)
}
