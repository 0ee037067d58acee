package config

import (
	"fmt"
	"time"
)

// GetDefaultConfig returns the built-in configuration every other layer is
// merged onto.
func GetDefaultConfig() StackctlConfig {
	enabled := true
	return StackctlConfig{
		Kubernetes: KubernetesConfig{
			FieldManager: "stackctl",
		},
		DescriptorsFile: "stackctl.yaml",
		Polling: PollingConfig{
			BaseInterval:    2 * time.Second,
			MaxInterval:     30 * time.Second,
			RollbackTimeout: 2 * time.Minute,
		},
		Timeouts: TimeoutsConfig{
			Critical:  10 * time.Minute,
			Standard:  5 * time.Minute,
			Auxiliary: 3 * time.Minute,
		},
		Lock: LockConfig{
			Backend:       LockBackendLease,
			LeaseName:     "stackctl-lock",
			LeaseDuration: 30 * time.Second,
		},
		Verification: VerificationConfig{
			Enabled: &enabled,
		},
		Output: OutputText,
	}
}

// Validate rejects values no command can work with.
func (c StackctlConfig) Validate() error {
	switch c.Lock.Backend {
	case LockBackendLease, LockBackendMemory:
	default:
		return fmt.Errorf("lock.backend must be %q or %q, got %q", LockBackendLease, LockBackendMemory, c.Lock.Backend)
	}
	switch c.Output {
	case OutputText, OutputJSON, OutputYAML, OutputTable:
	default:
		return fmt.Errorf("output must be one of text, json, yaml, table; got %q", c.Output)
	}
	if c.Polling.BaseInterval <= 0 || c.Polling.MaxInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if c.Polling.BaseInterval > c.Polling.MaxInterval {
		return fmt.Errorf("polling.baseInterval (%s) exceeds polling.maxInterval (%s)", c.Polling.BaseInterval, c.Polling.MaxInterval)
	}
	if c.Polling.RollbackTimeout <= 0 {
		return fmt.Errorf("polling.rollbackTimeout must be positive")
	}
	if c.Timeouts.Critical <= 0 || c.Timeouts.Standard <= 0 || c.Timeouts.Auxiliary <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Lock.Backend == LockBackendLease {
		if c.Lock.LeaseName == "" {
			return fmt.Errorf("lock.leaseName is required for the lease backend")
		}
		if c.Lock.LeaseDuration <= 0 {
			return fmt.Errorf("lock.leaseDuration must be positive")
		}
	}
	for i, check := range c.Verification.Checks {
		if check.Name == "" || check.Descriptor == "" || len(check.Command) == 0 {
			return fmt.Errorf("verification.checks[%d]: name, descriptor and command are required", i)
		}
	}
	return nil
}
