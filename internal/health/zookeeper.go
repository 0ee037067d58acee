package health

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"stackctl/internal/cluster"
	"stackctl/internal/descriptor"
)

// DefaultZooKeeperPort is the client port probed when none is configured.
const DefaultZooKeeperPort = 2181

// zooKeeperProbe asks every ensemble member "ruok" and then checks that the
// "srvr" report shows it as part of a quorum.
type zooKeeperProbe struct {
	spec descriptor.ProbeSpec
}

func newZooKeeperProbe(spec descriptor.ProbeSpec) (Probe, error) {
	if spec.Port == 0 {
		spec.Port = DefaultZooKeeperPort
	}
	return &zooKeeperProbe{spec: spec}, nil
}

// FourLetterWordCommand returns the shell command that sends a four letter
// word to the local ZooKeeper client port.
func FourLetterWordCommand(word string, port int) []string {
	if port == 0 {
		port = DefaultZooKeeperPort
	}
	return []string{"sh", "-c", fmt.Sprintf("echo %s | nc -w 2 localhost %d", word, port)}
}

func (p *zooKeeperProbe) Check(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) Result {
	instances, res := countGate(ctx, c, d)
	if instances == nil {
		return res
	}

	leaders := 0
	for _, inst := range instances {
		out, err := c.Exec(ctx, cluster.ExecRequest{
			Instance:  inst.Name,
			Container: p.spec.Container,
			Command:   FourLetterWordCommand("ruok", p.spec.Port),
		})
		if err != nil {
			return Result{Status: Ready, Message: res.Message, Err: transientf("ruok on %s: %v", inst.Name, err)}
		}
		answer := strings.TrimSpace(out.Stdout)
		switch {
		case answer == "":
			// The client port is not accepting connections yet.
			return Result{Status: Ready, Message: res.Message, Err: transientf("%s did not answer ruok", inst.Name)}
		case answer != "imok":
			return Result{Status: Ready, Message: res.Message, Err: malformedf("%s answered ruok with %q", inst.Name, truncate(answer))}
		}

		out, err = c.Exec(ctx, cluster.ExecRequest{
			Instance:  inst.Name,
			Container: p.spec.Container,
			Command:   FourLetterWordCommand("srvr", p.spec.Port),
		})
		if err != nil {
			return Result{Status: Ready, Message: res.Message, Err: transientf("srvr on %s: %v", inst.Name, err)}
		}
		mode, ok := ParseZooKeeperMode(out.Stdout)
		if !ok {
			if strings.Contains(out.Stdout, "not currently serving") {
				return Result{Status: Ready, Message: res.Message, Err: transientf("%s is not serving requests yet", inst.Name)}
			}
			return Result{Status: Ready, Message: res.Message, Err: malformedf("%s: srvr output has no Mode line: %q", inst.Name, truncate(out.Stdout))}
		}

		switch mode {
		case "leader":
			leaders++
		case "follower", "observer":
		case "standalone":
			if d.ExpectedInstances > 1 {
				return Result{Status: Ready, Message: res.Message, Err: malformedf("%s runs standalone in a %d member ensemble", inst.Name, d.ExpectedInstances)}
			}
		default:
			return Result{Status: Ready, Message: res.Message, Err: malformedf("%s reports unknown mode %q", inst.Name, mode)}
		}
	}

	if d.ExpectedInstances > 1 {
		switch {
		case leaders == 0:
			return Result{Status: Ready, Message: res.Message, Err: transientf("no leader elected yet")}
		case leaders > 1:
			return Result{Status: Ready, Message: res.Message, Err: malformedf("%d members claim leadership", leaders)}
		}
	}

	return Result{Status: Functional, Message: fmt.Sprintf("quorum of %d members serving", len(instances))}
}

// ParseZooKeeperMode extracts the value of the "Mode:" line of a srvr or
// stat response.
func ParseZooKeeperMode(output string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, found := strings.CutPrefix(line, "Mode:"); found {
			mode := strings.TrimSpace(rest)
			return mode, mode != ""
		}
	}
	return "", false
}
