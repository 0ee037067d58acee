package health

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"stackctl/internal/cluster"
	"stackctl/internal/descriptor"
)

// DefaultKafkaBootstrap is the broker address used when none is configured.
const DefaultKafkaBootstrap = "localhost:9092"

var brokerIDPattern = regexp.MustCompile(`\(id:\s*(-?\d+)\s+rack:`)

// kafkaProbe runs the broker API versions handshake from inside one broker
// and counts the brokers that answered.
type kafkaProbe struct {
	spec descriptor.ProbeSpec
}

func newKafkaProbe(spec descriptor.ProbeSpec) (Probe, error) {
	if spec.Bootstrap == "" {
		spec.Bootstrap = DefaultKafkaBootstrap
	}
	return &kafkaProbe{spec: spec}, nil
}

// KafkaTool builds a command line for one of the kafka-*.sh scripts.
func KafkaTool(tool, bootstrap string, args ...string) []string {
	if bootstrap == "" {
		bootstrap = DefaultKafkaBootstrap
	}
	return append([]string{tool, "--bootstrap-server", bootstrap}, args...)
}

func (p *kafkaProbe) command() []string {
	if len(p.spec.Command) > 0 {
		return p.spec.Command
	}
	return KafkaTool("kafka-broker-api-versions.sh", p.spec.Bootstrap)
}

func (p *kafkaProbe) Check(ctx context.Context, c cluster.Cluster, d *descriptor.Descriptor) Result {
	instances, res := countGate(ctx, c, d)
	if instances == nil {
		return res
	}

	target := instances[0].Name
	out, err := c.Exec(ctx, cluster.ExecRequest{Instance: target, Container: p.spec.Container, Command: p.command()})
	if err != nil {
		return Result{Status: Ready, Message: res.Message, Err: transientf("api versions handshake from %s: %v", target, err)}
	}

	ids := ParseBrokerIDs(out.Stdout)
	switch {
	case len(ids) == 0:
		return Result{Status: Ready, Message: res.Message, Err: malformedf("no broker endpoints in handshake output: %q", truncate(out.Stdout))}
	case len(ids) < d.ExpectedInstances:
		return Result{
			Status:  Ready,
			Message: fmt.Sprintf("%d of %d brokers registered", len(ids), d.ExpectedInstances),
			Err:     transientf("brokers registered: %v", ids),
		}
	}
	return Result{Status: Functional, Message: fmt.Sprintf("%d brokers answered the handshake", len(ids))}
}

// ParseBrokerIDs returns the distinct broker IDs listed by
// kafka-broker-api-versions.sh, sorted.
func ParseBrokerIDs(output string) []int {
	seen := map[int]struct{}{}
	for _, m := range brokerIDPattern.FindAllStringSubmatch(output, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[id] = struct{}{}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
