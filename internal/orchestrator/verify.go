package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stackctl/internal/cluster"
	"stackctl/internal/config"
	"stackctl/internal/descriptor"
	"stackctl/internal/health"
	"stackctl/internal/reporting"
	"stackctl/pkg/logging"
)

// verifyIDPlaceholder is replaced in configured check commands.
const verifyIDPlaceholder = "${VERIFY_ID}"

// checkTimeout bounds a single verification command.
const checkTimeout = time.Minute

// smokeCheck is one command run in a functional instance of a stage.
type smokeCheck struct {
	name    string
	stage   Stage
	command []string
	// validate inspects stdout of a command that exited successfully.
	validate func(stdout string) error
}

func expectContains(want string) func(string) error {
	return func(stdout string) error {
		if want == "" || strings.Contains(stdout, want) {
			return nil
		}
		return fmt.Errorf("output %q does not contain %q", firstLine(stdout), want)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// Verify runs the smoke checks for the plan and returns one result per
// check. Kafka stages get a topic round trip, ZooKeeper stages a quorum
// sanity check and a znode round trip, and configured checks run in the
// stage they name. Verify never changes cluster state beyond the
// temporary objects it creates and removes again.
func (o *Orchestrator) Verify(ctx context.Context, plan *Plan, runID string) []reporting.CheckResult {
	checks, unknown := o.smokeChecks(plan, runID)

	results := make([]reporting.CheckResult, 0, len(checks)+len(unknown))
	for _, c := range unknown {
		results = append(results, reporting.CheckResult{
			Name:       c.Name,
			Descriptor: c.Descriptor,
			Error:      fmt.Sprintf("descriptor %q is not part of the plan", c.Descriptor),
		})
	}

	instances := map[string]string{}
	for _, c := range checks {
		inst, ok := instances[c.stage.Name()]
		if !ok {
			var err error
			inst, err = o.functionalInstance(ctx, c.stage.Descriptor)
			if err != nil {
				results = append(results, reporting.CheckResult{Name: c.name, Descriptor: c.stage.Name(), Error: err.Error()})
				continue
			}
			instances[c.stage.Name()] = inst
		}
		results = append(results, o.runCheck(ctx, c, inst))
	}

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	logging.Info("Verify", "%d of %d verification checks passed", passed, len(results))
	return results
}

func (o *Orchestrator) smokeChecks(plan *Plan, runID string) ([]smokeCheck, []config.VerificationCheck) {
	var checks []smokeCheck
	for _, stage := range plan.Stages {
		switch stage.Descriptor.Probe.Type {
		case descriptor.ProbeKafka:
			checks = append(checks, kafkaChecks(stage, runID)...)
		case descriptor.ProbeZooKeeper:
			checks = append(checks, zooKeeperChecks(stage, runID)...)
		}
	}

	var unknown []config.VerificationCheck
	for _, c := range o.verification.Checks {
		stage, ok := plan.Stage(c.Descriptor)
		if !ok {
			unknown = append(unknown, c)
			continue
		}
		command := make([]string, 0, len(c.Command))
		for _, arg := range c.Command {
			command = append(command, strings.ReplaceAll(arg, verifyIDPlaceholder, runID))
		}
		checks = append(checks, smokeCheck{
			name:     c.Name,
			stage:    stage,
			command:  command,
			validate: expectContains(c.Expect),
		})
	}
	return checks, unknown
}

// VerifyTopic is the name of the temporary topic created by a run.
func VerifyTopic(runID string) string {
	return "stackctl-verify-" + runID
}

func kafkaChecks(stage Stage, runID string) []smokeCheck {
	bootstrap := stage.Descriptor.Probe.Bootstrap
	topic := VerifyTopic(runID)
	return []smokeCheck{
		{
			name:  "kafka-create-topic",
			stage: stage,
			command: health.KafkaTool("kafka-topics.sh", bootstrap,
				"--create", "--topic", topic, "--partitions", "1", "--replication-factor", "1"),
			validate: expectContains("Created topic"),
		},
		{
			name:    "kafka-list-topics",
			stage:   stage,
			command: health.KafkaTool("kafka-topics.sh", bootstrap, "--list"),
			validate: func(stdout string) error {
				for _, line := range strings.Split(stdout, "\n") {
					if strings.TrimSpace(line) == topic {
						return nil
					}
				}
				return fmt.Errorf("topic %s is not listed", topic)
			},
		},
		{
			name:     "kafka-delete-topic",
			stage:    stage,
			command:  health.KafkaTool("kafka-topics.sh", bootstrap, "--delete", "--topic", topic),
			validate: expectContains(""),
		},
	}
}

func zooKeeperChecks(stage Stage, runID string) []smokeCheck {
	port := stage.Descriptor.Probe.Port
	if port == 0 {
		port = health.DefaultZooKeeperPort
	}
	server := "localhost:" + strconv.Itoa(port)
	znode := "/stackctl-verify-" + runID
	payload := ZNodePayload(runID)
	zkCli := func(args ...string) []string {
		return append([]string{"zkCli.sh", "-server", server}, args...)
	}

	return []smokeCheck{
		{
			name:     "zookeeper-ruok",
			stage:    stage,
			command:  health.FourLetterWordCommand("ruok", port),
			validate: expectContains("imok"),
		},
		{
			name:    "zookeeper-srvr",
			stage:   stage,
			command: health.FourLetterWordCommand("srvr", port),
			validate: func(stdout string) error {
				mode, ok := health.ParseZooKeeperMode(stdout)
				if !ok {
					return fmt.Errorf("srvr output has no Mode line: %q", firstLine(stdout))
				}
				switch mode {
				case "leader", "follower", "observer", "standalone":
					return nil
				}
				return fmt.Errorf("unexpected mode %q", mode)
			},
		},
		{
			name:     "zookeeper-create-znode",
			stage:    stage,
			command:  zkCli("create", znode, payload),
			validate: expectContains("Created " + znode),
		},
		{
			name:     "zookeeper-get-znode",
			stage:    stage,
			command:  zkCli("get", znode),
			validate: expectZNodeData(payload),
		},
		{
			name:     "zookeeper-delete-znode",
			stage:    stage,
			command:  zkCli("delete", znode),
			validate: expectContains(""),
		},
	}
}

// ZNodePayload is the data written to the verification znode. It differs
// from the path so an error naming the path is never taken for the data.
func ZNodePayload(runID string) string {
	return "verified-" + runID
}

// expectZNodeData requires a line of zkCli get output to equal want.
func expectZNodeData(want string) func(string) error {
	return func(stdout string) error {
		if strings.Contains(stdout, "Node does not exist") {
			return fmt.Errorf("znode missing: %q", firstLine(stdout))
		}
		for _, line := range strings.Split(stdout, "\n") {
			if strings.TrimSpace(line) == want {
				return nil
			}
		}
		return fmt.Errorf("znode data %q is not %q", firstLine(stdout), want)
	}
}

// functionalInstance picks the first ready instance that is not shutting
// down.
func (o *Orchestrator) functionalInstance(ctx context.Context, d *descriptor.Descriptor) (string, error) {
	instances, err := o.cluster.ListInstances(ctx, d.Selector)
	if err != nil {
		return "", fmt.Errorf("listing instances of %s: %w", d.Name, err)
	}
	for _, inst := range instances {
		if inst.Ready && !inst.Terminating {
			return inst.Name, nil
		}
	}
	return "", fmt.Errorf("no ready instance of %s", d.Name)
}

func (o *Orchestrator) runCheck(ctx context.Context, c smokeCheck, instance string) reporting.CheckResult {
	result := reporting.CheckResult{Name: c.name, Descriptor: c.stage.Name(), Instance: instance}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := o.now()
	out, err := o.cluster.Exec(checkCtx, cluster.ExecRequest{
		Instance:  instance,
		Container: c.stage.Descriptor.Probe.Container,
		Command:   c.command,
	})
	result.Duration = o.now().Sub(start)
	result.Output = firstLine(out.Stdout)

	if err == nil && c.validate != nil {
		err = c.validate(out.Stdout)
	}
	if err != nil {
		result.Error = err.Error()
		logging.Warn("Verify", "Check %s on %s failed: %v", c.name, instance, err)
		return result
	}
	result.Passed = true
	logging.Debug("Verify", "Check %s on %s passed", c.name, instance)
	return result
}

// VerifyRun probes every stage once and runs the smoke checks under the
// target lock. Unlike verification after a deploy, a failed check fails the
// run with a VerificationFailure.
func (o *Orchestrator) VerifyRun(ctx context.Context, plan *Plan) (*reporting.RunReport, error) {
	report := o.newReport(reporting.OperationVerify, plan, nil)

	ctx, release, err := o.acquire(ctx, report)
	if err != nil {
		return report, err
	}
	defer release()

	var failure error
	for _, stage := range plan.Stages {
		res := report.Stage(stage.Name())
		r := stage.Probe.Check(ctx, o.cluster, stage.Descriptor)
		switch {
		case r.Status == health.Functional:
			res.Transition(reporting.StageFunctional, o.now(), r.Message)
		default:
			if r.Status == health.Ready {
				res.Transition(reporting.StageReady, o.now(), r.Message)
			}
			cause := r.Err
			if cause == nil {
				cause = fmt.Errorf("status %s", r.Status)
			}
			if r.IsMalformed() {
				res.AddDiagnostic(r.Err.Error())
			}
			res.Fail(cause, o.now())
			if failure == nil {
				failure = &VerificationFailure{Check: "probe " + stage.Name(), Err: cause}
			}
		}
		o.reportStage(report, res, r.Message, nil)
	}

	report.Verification = o.Verify(ctx, plan, report.RunID)
	for _, c := range report.Verification {
		if !c.Passed && failure == nil {
			failure = &VerificationFailure{Check: c.Name, Err: errors.New(c.Error)}
		}
	}

	if lost := lockLost(ctx); lost != nil && failure == nil {
		failure = lost
	}
	if failure != nil {
		report.Finish(reporting.RunFailed, failure, o.now())
		o.reportRun(report, failure)
		o.save(report)
		return report, failure
	}
	report.Finish(reporting.RunSucceeded, nil, o.now())
	o.reportRun(report, nil)
	o.save(report)
	return report, nil
}
