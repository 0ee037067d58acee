package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stackctl/internal/cluster"
	"stackctl/internal/config"
	"stackctl/internal/descriptor"
	"stackctl/internal/kube"
	"stackctl/internal/lock"
	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/store"
)

// Exit codes.
const (
	exitOK              = 0
	exitFailed          = 1
	exitPartialRollback = 2
	exitInvalidPlan     = 3
	exitLockHeld        = 4
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitCodeFor maps the outcome of a run to the process exit code.
func exitCodeFor(report *reporting.RunReport, err error) int {
	var rollbackErr *orchestrator.RollbackError
	switch {
	case err == nil && report != nil && report.Operation == reporting.OperationVerify && !report.VerificationPassed():
		return exitFailed
	case err == nil:
		return exitOK
	case errors.Is(err, lock.ErrHeld):
		return exitLockHeld
	case errors.Is(err, orchestrator.ErrPlan), errors.Is(err, orchestrator.ErrDataDeletionNotConfirmed):
		return exitInvalidPlan
	case errors.As(err, &rollbackErr):
		return exitPartialRollback
	case report != nil && report.State == reporting.RunPartialRollbackFailure:
		return exitPartialRollback
	default:
		return exitFailed
	}
}

// loadConfig reads the layered configuration and applies the global flags
// on top. Overridable for tests.
var loadConfig = func() (config.StackctlConfig, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.StackctlConfig{}, err
	}
	return applyGlobalFlags(cfg)
}

func applyGlobalFlags(cfg config.StackctlConfig) (config.StackctlConfig, error) {
	if globals.descriptors != "" {
		cfg.DescriptorsFile = globals.descriptors
	}
	if globals.kubeContext != "" {
		cfg.Kubernetes.Context = globals.kubeContext
	}
	if globals.namespace != "" {
		cfg.Kubernetes.Namespace = globals.namespace
	}
	if globals.output != "" {
		cfg.Output = globals.output
	}
	if globals.lock != "" {
		cfg.Lock.Backend = globals.lock
	}
	if err := cfg.Validate(); err != nil {
		return config.StackctlConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadPlan loads the descriptors file named by cfg and builds the plan.
func loadPlan(cfg config.StackctlConfig, timeoutPerStage time.Duration) (*orchestrator.Plan, error) {
	descriptors, err := descriptor.LoadFile(cfg.DescriptorsFile)
	if err != nil {
		return nil, err
	}
	return orchestrator.BuildPlan(descriptors, orchestrator.Timeouts{
		Critical:  cfg.Timeouts.Critical,
		Standard:  cfg.Timeouts.Standard,
		Auxiliary: cfg.Timeouts.Auxiliary,
		Override:  timeoutPerStage,
	})
}

func newHistoryStore(cfg config.StackctlConfig) store.Store {
	if cfg.History.Dir == "" {
		return store.NewMemoryStore()
	}
	return store.NewFileStore(cfg.History.Dir, store.DefaultKeep)
}

// resolveTarget names the target without building cluster clients.
// Overridable for tests.
var resolveTarget = func(cfg config.StackctlConfig) (string, error) {
	return kube.ResolveTarget(cfg.Kubernetes.Context, cfg.Kubernetes.Namespace)
}

// newOrchestrator wires an orchestrator to the cluster selected by cfg.
// Overridable for tests.
var newOrchestrator = func(cfg config.StackctlConfig) (*orchestrator.Orchestrator, error) {
	clients, err := kube.NewClients(cfg.Kubernetes.Context, cfg.Kubernetes.Namespace)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case config.LockBackendMemory:
		locker = lock.NewMemoryLocker()
	default:
		locker = kube.NewLeaseLocker(clients.Core, clients.Namespace, cfg.Lock.LeaseName, cfg.Lock.LeaseDuration)
	}

	var c cluster.Cluster = kube.NewCluster(clients, cfg.Kubernetes.FieldManager)
	return orchestrator.New(orchestratorConfig(cfg, c, locker, clients.Target())), nil
}

func orchestratorConfig(cfg config.StackctlConfig, c cluster.Cluster, locker lock.Locker, target string) orchestrator.Config {
	return orchestrator.Config{
		Cluster:  c,
		Locker:   locker,
		Target:   target,
		Reporter: reporting.NewConsoleReporter(),
		Store:    newHistoryStore(cfg),
		Polling: orchestrator.Polling{
			BaseInterval:    cfg.Polling.BaseInterval,
			MaxInterval:     cfg.Polling.MaxInterval,
			RollbackTimeout: cfg.Polling.RollbackTimeout,
		},
		Verification: cfg.Verification,
	}
}

// setup loads configuration and the plan. Plan errors are returned as
// ExitErrors with the invalid plan code.
func setup(timeoutPerStage time.Duration) (config.StackctlConfig, *orchestrator.Plan, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.StackctlConfig{}, nil, &ExitError{Code: exitInvalidPlan, Err: err}
	}
	plan, err := loadPlan(cfg, timeoutPerStage)
	if err != nil {
		return config.StackctlConfig{}, nil, &ExitError{Code: exitInvalidPlan, Err: err}
	}
	return cfg, plan, nil
}

// finish renders report to stdout and turns the run outcome into an
// ExitError.
func finish(cmd *cobra.Command, cfg config.StackctlConfig, report *reporting.RunReport, runErr error) error {
	if report != nil {
		format, err := reporting.ParseFormat(cfg.Output)
		if err != nil {
			return err
		}
		if err := reporting.RenderReport(cmd.OutOrStdout(), report, format); err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
	}

	code := exitCodeFor(report, runErr)
	switch {
	case code == exitOK:
		return nil
	case runErr == nil:
		return &ExitError{Code: code, Err: fmt.Errorf("%s %s: verification failed", report.Operation, report.Target)}
	default:
		return &ExitError{Code: code, Err: runErr}
	}
}
