package health

import (
	"context"
	"fmt"

	"stackctl/internal/cluster"
)

// Absence checks that no instance matches selector any more. A failed
// listing reports Scheduled so it is never mistaken for absence.
func Absence(c cluster.Cluster, selector map[string]string) CheckFunc {
	return func(ctx context.Context) Result {
		instances, err := c.ListInstances(ctx, selector)
		if err != nil {
			return Result{Status: Scheduled, Err: transientf("listing instances: %v", err)}
		}
		if len(instances) == 0 {
			return Result{Status: NotFound, Message: "no instances remain"}
		}
		return Result{
			Status:  Scheduled,
			Message: fmt.Sprintf("%d instances remain: %v", len(instances), InstanceNames(instances)),
		}
	}
}

// Removal checks that neither instances nor any object req deletes remain.
// A failed listing reports Scheduled like [Absence].
func Removal(c cluster.Cluster, req cluster.DeleteRequest) CheckFunc {
	instancesGone := Absence(c, req.Selector)
	return func(ctx context.Context) Result {
		res := instancesGone(ctx)
		if res.Status != NotFound {
			return res
		}
		objects, err := c.Remaining(ctx, req)
		if err != nil {
			return Result{Status: Scheduled, Err: transientf("listing objects: %v", err)}
		}
		if len(objects) == 0 {
			return Result{Status: NotFound, Message: "nothing remains"}
		}
		return Result{
			Status:  Scheduled,
			Message: fmt.Sprintf("%d objects remain: %v", len(objects), objects),
		}
	}
}

// InstanceNames returns the names of instances in order.
func InstanceNames(instances []cluster.Instance) []string {
	names := make([]string, 0, len(instances))
	for _, inst := range instances {
		names = append(names, inst.Name)
	}
	return names
}
