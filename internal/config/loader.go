package config

import (
	"fmt"
	"os"
	"path/filepath"

	"stackctl/pkg/logging"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/stackctl"
	projectConfigDir = ".stackctl"
	configFileName   = "config.yaml"
	historyDirName   = "history"
)

// LoadConfig loads the stackctl configuration by layering default, user, and project settings.
// Command line flags are applied on top by the caller.
func LoadConfig() (StackctlConfig, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else {
		config, err = mergeFromFile(config, userConfigPath)
		if err != nil {
			return StackctlConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else {
		config, err = mergeFromFile(config, projectConfigPath)
		if err != nil {
			return StackctlConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
	}

	if config.History.Dir == "" {
		if dir, err := GetUserConfigDir(); err == nil {
			config.History.Dir = filepath.Join(dir, historyDirName)
		}
	}

	return config, nil
}

func mergeFromFile(base StackctlConfig, path string) (StackctlConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return base, err
	}
	logging.Debug("Config", "Merged configuration from %s", path)
	return mergeConfigs(base, overlay), nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a StackctlConfig from a YAML file.
func loadConfigFromFile(filePath string) (StackctlConfig, error) {
	var config StackctlConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return StackctlConfig{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return StackctlConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Zero values in
// the overlay leave the base untouched.
func mergeConfigs(base, overlay StackctlConfig) StackctlConfig {
	merged := base

	mergeString(&merged.Kubernetes.Context, overlay.Kubernetes.Context)
	mergeString(&merged.Kubernetes.Namespace, overlay.Kubernetes.Namespace)
	mergeString(&merged.Kubernetes.FieldManager, overlay.Kubernetes.FieldManager)
	mergeString(&merged.DescriptorsFile, overlay.DescriptorsFile)
	mergeString(&merged.Output, overlay.Output)

	if overlay.Polling.BaseInterval != 0 {
		merged.Polling.BaseInterval = overlay.Polling.BaseInterval
	}
	if overlay.Polling.MaxInterval != 0 {
		merged.Polling.MaxInterval = overlay.Polling.MaxInterval
	}
	if overlay.Polling.RollbackTimeout != 0 {
		merged.Polling.RollbackTimeout = overlay.Polling.RollbackTimeout
	}

	if overlay.Timeouts.Critical != 0 {
		merged.Timeouts.Critical = overlay.Timeouts.Critical
	}
	if overlay.Timeouts.Standard != 0 {
		merged.Timeouts.Standard = overlay.Timeouts.Standard
	}
	if overlay.Timeouts.Auxiliary != 0 {
		merged.Timeouts.Auxiliary = overlay.Timeouts.Auxiliary
	}

	mergeString(&merged.Lock.Backend, overlay.Lock.Backend)
	mergeString(&merged.Lock.LeaseName, overlay.Lock.LeaseName)
	if overlay.Lock.LeaseDuration != 0 {
		merged.Lock.LeaseDuration = overlay.Lock.LeaseDuration
	}

	mergeString(&merged.History.Dir, overlay.History.Dir)

	if overlay.Verification.Enabled != nil {
		enabled := *overlay.Verification.Enabled
		merged.Verification.Enabled = &enabled
	}
	merged.Verification.Checks = mergeChecks(base.Verification.Checks, overlay.Verification.Checks)

	return merged
}

func mergeString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// mergeChecks replaces base checks that share a name with an overlay check
// and appends the rest, keeping declaration order.
func mergeChecks(base, overlay []VerificationCheck) []VerificationCheck {
	if len(overlay) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	merged := make([]VerificationCheck, 0, len(base)+len(overlay))
	for _, check := range base {
		index[check.Name] = len(merged)
		merged = append(merged, check)
	}
	for _, check := range overlay {
		if i, ok := index[check.Name]; ok {
			merged[i] = check
			continue
		}
		index[check.Name] = len(merged)
		merged = append(merged, check)
	}
	return merged
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
