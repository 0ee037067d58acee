package health

import (
	"context"
	"fmt"

	"stackctl/internal/cluster"
	"stackctl/internal/descriptor"
)

// countProbe only looks at instance counts and readiness. Without an
// application-level check, Ready is the strongest signal available and is
// reported as Functional.
type countProbe struct{}

func newCountProbe(descriptor.ProbeSpec) (Probe, error) {
	return countProbe{}, nil
}

func (countProbe) Check(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) Result {
	instances, res := countGate(ctx, c, d)
	if instances == nil {
		return res
	}
	res.Status = Functional
	return res
}

// countGate lists the descriptor's live instances and grades them. It
// returns the instances only when all expected instances are Ready; the
// result then carries Status Ready.
//
// Terminating instances are ignored. Fewer instances than expected is still
// NotFound since the descriptor is not fully scheduled yet.
func countGate(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) ([]cluster.Instance, Result) {
	all, err := c.ListInstances(ctx, d.Selector)
	if err != nil {
		return nil, Result{Status: NotFound, Err: transientf("listing instances: %v", err)}
	}

	live := make([]cluster.Instance, 0, len(all))
	for _, inst := range all {
		if !inst.Terminating {
			live = append(live, inst)
		}
	}

	switch {
	case len(live) == 0:
		return nil, Result{Status: NotFound, Message: "no instances", Err: transientf("no instances match %s", d.SelectorString())}
	case len(live) < d.ExpectedInstances:
		return nil, Result{
			Status:  NotFound,
			Message: fmt.Sprintf("%d of %d instances scheduled", len(live), d.ExpectedInstances),
			Err:     transientf("waiting for %d more instances", d.ExpectedInstances-len(live)),
		}
	case len(live) > d.ExpectedInstances:
		return nil, Result{
			Status:  Scheduled,
			Message: fmt.Sprintf("%d instances found, expected %d", len(live), d.ExpectedInstances),
			Err:     transientf("instance count has not settled"),
		}
	}

	var notReady []string
	for _, inst := range live {
		if !inst.Ready {
			notReady = append(notReady, inst.Name)
		}
	}
	if len(notReady) > 0 {
		return nil, Result{
			Status:  Scheduled,
			Message: fmt.Sprintf("%d of %d instances ready", len(live)-len(notReady), len(live)),
			Err:     transientf("instances not ready: %v", notReady),
		}
	}

	return live, Result{Status: Ready, Message: fmt.Sprintf("all %d instances ready", len(live))}
}
