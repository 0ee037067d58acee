package dependency

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPlan is matched by every structural graph error, so callers can
// classify them with errors.Is.
var ErrPlan = errors.New("invalid plan")

// UnknownDependencyError is returned when a node depends on an ID that is not
// part of the graph.
type UnknownDependencyError struct {
	Node       NodeID
	Dependency NodeID
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("unknown dependency %q (required by %q)", e.Dependency, e.Node)
}

func (e *UnknownDependencyError) Is(target error) bool { return target == ErrPlan }

// CyclicDependencyError names the members of one dependency cycle, starting
// with the lexicographically smallest member.
type CyclicDependencyError struct {
	Members []NodeID
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Members) == 0 {
		return "cyclic dependency"
	}
	names := make([]string, 0, len(e.Members)+1)
	for _, m := range e.Members {
		names = append(names, string(m))
	}
	names = append(names, string(e.Members[0]))
	return "cyclic dependency: " + strings.Join(names, " -> ")
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrPlan }

// DuplicateNodeError is returned by AddNode when the ID already exists.
type DuplicateNodeError struct {
	Node NodeID
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node %q", e.Node)
}

func (e *DuplicateNodeError) Is(target error) bool { return target == ErrPlan }
