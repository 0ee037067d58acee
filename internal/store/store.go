// Package store persists run reports per target so that later commands can
// show the outcome of the last run.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"stackctl/internal/reporting"
)

// ErrNotFound is returned when no run was recorded for a target.
var ErrNotFound = errors.New("no run recorded for target")

// Store records finished run reports keyed by target identity.
type Store interface {
	// Save records report under report.Target.
	Save(report *reporting.RunReport) error
	// Last returns the most recently saved report for target.
	Last(target string) (*reporting.RunReport, error)
	// History returns up to limit reports for target, newest first. A limit
	// of zero returns all of them.
	History(target string, limit int) ([]*reporting.RunReport, error)
	// Targets lists every target with at least one recorded run.
	Targets() ([]string, error)
}

// clone detaches a report from its caller.
func clone(report *reporting.RunReport) (*reporting.RunReport, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	var out reporting.RunReport
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &out, nil
}
