package health

import (
	"context"
	"fmt"
	"strings"

	"stackctl/internal/cluster"
	"stackctl/internal/descriptor"
)

// execProbe runs a command in every instance and expects a substring in
// its stdout.
type execProbe struct {
	spec descriptor.ProbeSpec
}

func newExecProbe(spec descriptor.ProbeSpec) (Probe, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("exec probe requires a command")
	}
	return &execProbe{spec: spec}, nil
}

func (p *execProbe) Check(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) Result {
	instances, res := countGate(ctx, c, d)
	if instances == nil {
		return res
	}

	for _, inst := range instances {
		out, err := c.Exec(ctx, cluster.ExecRequest{Instance: inst.Name, Container: p.spec.Container, Command: p.spec.Command})
		if err != nil {
			return Result{Status: Ready, Message: res.Message, Err: transientf("exec in %s: %v", inst.Name, err)}
		}
		if !strings.Contains(out.Stdout, p.spec.Expect) {
			return Result{
				Status:  Ready,
				Message: res.Message,
				Err:     malformedf("%s: output %q does not contain %q", inst.Name, truncate(out.Stdout), p.spec.Expect),
			}
		}
	}
	return Result{Status: Functional, Message: fmt.Sprintf("command succeeded in %d instances", len(instances))}
}

// truncate keeps diagnostics to one readable line.
func truncate(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	const max = 120
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
