// Package locktest provides contract tests for [lock.Locker]
// implementations.
package locktest

import (
	"context"
	"errors"
	"testing"
	"time"

	"stackctl/internal/lock"
)

// Factory creates a fresh [lock.Locker] for each test invocation.
type Factory func(t *testing.T) lock.Locker

// Run exercises the [lock.Locker] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("AcquireAndRelease", func(t *testing.T) {
		locker := factory(t)
		ctx := context.Background()

		lease, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if lease.Target() != "kind-dev/streaming" {
			t.Errorf("Target = %q, want %q", lease.Target(), "kind-dev/streaming")
		}
		if lease.Holder() != "run-1" {
			t.Errorf("Holder = %q, want %q", lease.Holder(), "run-1")
		}
		if err := lease.Release(ctx); err != nil {
			t.Fatalf("Release: %v", err)
		}
	})

	t.Run("SecondAcquireRejected", func(t *testing.T) {
		locker := factory(t)
		ctx := context.Background()

		lease, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
		if err != nil {
			t.Fatalf("first Acquire: %v", err)
		}
		defer func() { _ = lease.Release(ctx) }()

		_, err = locker.Acquire(ctx, "kind-dev/streaming", "run-2")
		if !errors.Is(err, lock.ErrHeld) {
			t.Fatalf("second Acquire: got %v, want ErrHeld", err)
		}
		var held *lock.HeldError
		if !errors.As(err, &held) {
			t.Fatalf("second Acquire: got %T, want *lock.HeldError", err)
		}
		if held.Holder != "run-1" {
			t.Errorf("Holder = %q, want %q", held.Holder, "run-1")
		}
	})

	t.Run("ReacquireAfterRelease", func(t *testing.T) {
		locker := factory(t)
		ctx := context.Background()

		lease, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := lease.Release(ctx); err != nil {
			t.Fatalf("Release: %v", err)
		}
		again, err := locker.Acquire(ctx, "kind-dev/streaming", "run-2")
		if err != nil {
			t.Fatalf("Acquire after release: %v", err)
		}
		_ = again.Release(ctx)
	})

	t.Run("ReleaseTwice", func(t *testing.T) {
		locker := factory(t)
		ctx := context.Background()

		lease, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := lease.Release(ctx); err != nil {
			t.Fatalf("first Release: %v", err)
		}
		if err := lease.Release(ctx); err != nil {
			t.Fatalf("second Release: %v", err)
		}
	})

	t.Run("StaleReleaseKeepsNewHolder", func(t *testing.T) {
		locker := factory(t)
		ctx := context.Background()

		first, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := first.Release(ctx); err != nil {
			t.Fatalf("Release: %v", err)
		}
		second, err := locker.Acquire(ctx, "kind-dev/streaming", "run-2")
		if err != nil {
			t.Fatalf("second Acquire: %v", err)
		}
		defer func() { _ = second.Release(ctx) }()

		// A late release from the first holder must not free the lock.
		if err := first.Release(ctx); err != nil {
			t.Fatalf("stale Release: %v", err)
		}
		if _, err := locker.Acquire(ctx, "kind-dev/streaming", "run-3"); !errors.Is(err, lock.ErrHeld) {
			t.Fatalf("Acquire after stale release: got %v, want ErrHeld", err)
		}
	})

	t.Run("TargetsAreIndependent", func(t *testing.T) {
		locker := factory(t)
		ctx := context.Background()

		a, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
		if err != nil {
			t.Fatalf("Acquire a: %v", err)
		}
		defer func() { _ = a.Release(ctx) }()
		b, err := locker.Acquire(ctx, "kind-dev/analytics", "run-2")
		if err != nil {
			t.Fatalf("Acquire b: %v", err)
		}
		_ = b.Release(ctx)
	})

	t.Run("NotLostWhileHeld", func(t *testing.T) {
		locker := factory(t)
		ctx := context.Background()

		lease, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		defer func() { _ = lease.Release(ctx) }()

		select {
		case err := <-lease.Lost():
			t.Fatalf("lease reported lost while held: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	})
}
