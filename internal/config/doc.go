// Package config provides configuration management for stackctl.
//
// This package implements a layered configuration system. Configuration is
// loaded from multiple sources and merged in a specific order, with later
// sources overriding earlier ones.
//
// # Configuration Layers
//
//  1. Default Configuration (embedded in binary)
//
//  2. User Configuration (~/.config/stackctl/config.yaml)
//     - Personal settings that apply to every project
//
//  3. Project Configuration (./.stackctl/config.yaml)
//     - Settings shared by a team through version control
//
//  4. Command line flags, applied by the cmd package
//
// # Configuration Structure
//
//	kubernetes:
//	  context: "kind-dev"
//	  namespace: "streaming"
//	  fieldManager: "stackctl"
//	descriptorsFile: "deploy/stackctl.yaml"
//	polling:
//	  baseInterval: 2s
//	  maxInterval: 30s
//	  rollbackTimeout: 2m
//	timeouts:
//	  critical: 10m
//	  standard: 5m
//	  auxiliary: 3m
//	lock:
//	  backend: lease        # or "memory"
//	  leaseName: stackctl-lock
//	  leaseDuration: 30s
//	history:
//	  dir: ~/.config/stackctl/history
//	verification:
//	  enabled: true
//	  checks:
//	    - name: ui-responds
//	      descriptor: ui
//	      command: ["wget", "-qO-", "http://localhost:8080/"]
//	      expect: "<html"
//	output: text            # text, json, yaml or table
//
// # Merging
//
// Scalar values in a later layer replace earlier ones when they are set.
// Verification checks are merged by name: a check with the same name replaces
// the earlier definition, new names are appended.
package config
