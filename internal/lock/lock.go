// Package lock provides the run-scoped lock that keeps two orchestration
// runs from mutating the same target at once.
//
// A Locker is passed explicitly to the orchestrator. Acquire never waits: if
// the target is already held it fails with an error matching ErrHeld.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHeld is matched by every error returned when a target is locked by
// someone else.
var ErrHeld = errors.New("target is locked by another run")

// ErrLost is matched by the error a Lease reports when it stopped being
// held before Release.
var ErrLost = errors.New("lock lost")

// HeldError describes the current holder of a lock.
type HeldError struct {
	Target string
	Holder string
	Since  time.Time
}

func (e *HeldError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("target %s is locked by %s", e.Target, e.Holder)
	}
	return fmt.Sprintf("target %s is locked by %s since %s", e.Target, e.Holder, e.Since.Format(time.RFC3339))
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// Locker hands out exclusive leases keyed by target identity.
type Locker interface {
	Acquire(ctx context.Context, target, holder string) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Target() string
	Holder() string
	// Lost delivers one error matching ErrLost if the lease is lost while
	// held. A nil channel means the lease cannot be lost.
	Lost() <-chan error
	Release(ctx context.Context) error
}
