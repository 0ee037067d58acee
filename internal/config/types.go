package config

import (
	"time"
)

// StackctlConfig is the top-level configuration structure for stackctl.
type StackctlConfig struct {
	Kubernetes      KubernetesConfig   `yaml:"kubernetes"`
	DescriptorsFile string             `yaml:"descriptorsFile,omitempty"` // Path of the descriptors file, relative to the working directory
	Polling         PollingConfig      `yaml:"polling"`
	Timeouts        TimeoutsConfig     `yaml:"timeouts"`
	Lock            LockConfig         `yaml:"lock"`
	History         HistoryConfig      `yaml:"history"`
	Verification    VerificationConfig `yaml:"verification"`
	Output          string             `yaml:"output,omitempty"` // text, json, yaml or table
}

// KubernetesConfig selects the target cluster and namespace.
type KubernetesConfig struct {
	Context      string `yaml:"context,omitempty"`      // kubeconfig context; empty uses the current context
	Namespace    string `yaml:"namespace,omitempty"`    // Target namespace; empty uses the context's namespace
	FieldManager string `yaml:"fieldManager,omitempty"` // Field manager name used for server-side apply
}

// PollingConfig is the back-off policy shared by health and absence polling.
type PollingConfig struct {
	BaseInterval    time.Duration `yaml:"baseInterval,omitempty"`
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty"`
	RollbackTimeout time.Duration `yaml:"rollbackTimeout,omitempty"` // Bound for each descriptor's removal during rollback and teardown
}

// TimeoutsConfig holds the default stage timeout per criticality.
type TimeoutsConfig struct {
	Critical  time.Duration `yaml:"critical,omitempty"`
	Standard  time.Duration `yaml:"standard,omitempty"`
	Auxiliary time.Duration `yaml:"auxiliary,omitempty"`
}

// Lock backends.
const (
	LockBackendLease  = "lease"
	LockBackendMemory = "memory"
)

// LockConfig configures the run-scoped lock.
type LockConfig struct {
	Backend       string        `yaml:"backend,omitempty"`   // "lease" or "memory"
	LeaseName     string        `yaml:"leaseName,omitempty"` // Name of the coordination Lease object
	LeaseDuration time.Duration `yaml:"leaseDuration,omitempty"`
}

// HistoryConfig configures where run reports are kept.
type HistoryConfig struct {
	Dir string `yaml:"dir,omitempty"` // Defaults to ~/.config/stackctl/history
}

// VerificationConfig configures the post-deploy smoke checks.
type VerificationConfig struct {
	// Enabled is a pointer so an overlay file can switch verification off.
	Enabled *bool               `yaml:"enabled,omitempty"`
	Checks  []VerificationCheck `yaml:"checks,omitempty"`
}

// IsEnabled reports whether verification runs after a successful deploy.
func (v VerificationConfig) IsEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

// VerificationCheck is an additional exec check run in the first functional
// instance of a descriptor. ${VERIFY_ID} in the command is replaced with a
// run-unique identifier.
type VerificationCheck struct {
	Name       string   `yaml:"name"`
	Descriptor string   `yaml:"descriptor"`
	Command    []string `yaml:"command"`
	Expect     string   `yaml:"expect,omitempty"`
}

// Output formats.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
	OutputTable = "table"
)
