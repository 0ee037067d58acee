package kube

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"stackctl/internal/lock"
	"stackctl/internal/lock/locktest"
)

func TestLeaseLocker_Contract(t *testing.T) {
	locktest.Run(t, func(t *testing.T) lock.Locker {
		return NewLeaseLocker(fake.NewSimpleClientset(), "streaming", "stackctl-lock", 30*time.Second)
	})
}

func existingLease(name, holder string, renewed time.Time, seconds int32) *coordinationv1.Lease {
	renew := metav1.NewMicroTime(renewed)
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "streaming"},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			LeaseDurationSeconds: &seconds,
			AcquireTime:          &renew,
			RenewTime:            &renew,
		},
	}
}

func TestLeaseLocker_Expiry(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		renewed  time.Time
		wantHeld bool
	}{
		{name: "lease still valid", renewed: now.Add(-10 * time.Second), wantHeld: true},
		{name: "lease expired", renewed: now.Add(-31 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := NewLeaseLocker(nil, "streaming", "stackctl-lock", 30*time.Second)
			name := probe.LeaseName("kind-dev/streaming")
			client := fake.NewSimpleClientset(existingLease(name, "crashed-run", tt.renewed, 30))

			locker := NewLeaseLocker(client, "streaming", "stackctl-lock", 30*time.Second)
			locker.now = func() time.Time { return now }

			held, err := locker.Acquire(context.Background(), "kind-dev/streaming", "run-2")
			if tt.wantHeld {
				require.True(t, errors.Is(err, lock.ErrHeld), "got %v", err)
				var heldErr *lock.HeldError
				require.True(t, errors.As(err, &heldErr))
				assert.Equal(t, "crashed-run", heldErr.Holder)
				assert.Equal(t, tt.renewed, heldErr.Since.UTC())
				return
			}
			require.NoError(t, err)
			defer func() { _ = held.Release(context.Background()) }()

			current, err := client.CoordinationV1().Leases("streaming").Get(context.Background(), name, metav1.GetOptions{})
			require.NoError(t, err)
			assert.Equal(t, "run-2", *current.Spec.HolderIdentity)
			assert.Equal(t, "kind-dev/streaming", current.Annotations[targetAnnotation])
		})
	}
}

func TestLeaseLocker_Renews(t *testing.T) {
	client := fake.NewSimpleClientset()
	locker := NewLeaseLocker(client, "streaming", "stackctl-lock", 30*time.Millisecond)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
	require.NoError(t, err)
	name := locker.LeaseName("kind-dev/streaming")

	first, err := client.CoordinationV1().Leases("streaming").Get(ctx, name, metav1.GetOptions{})
	require.NoError(t, err)
	acquired := first.Spec.RenewTime.Time

	assert.Eventually(t, func() bool {
		current, err := client.CoordinationV1().Leases("streaming").Get(ctx, name, metav1.GetOptions{})
		return err == nil && current.Spec.RenewTime.After(acquired)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, held.Release(ctx))
	_, err = client.CoordinationV1().Leases("streaming").Get(ctx, name, metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestLeaseLocker_LeaseNamePerTarget(t *testing.T) {
	locker := NewLeaseLocker(nil, "streaming", "stackctl-lock", time.Minute)
	a := locker.LeaseName("kind-dev/streaming")
	b := locker.LeaseName("kind-dev/analytics")

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, locker.LeaseName("kind-dev/streaming"))
	assert.Regexp(t, `^stackctl-lock-[0-9a-f]{8}$`, a)
}

func TestLeaseLocker_ReportsTakeOver(t *testing.T) {
	client := fake.NewSimpleClientset()
	locker := NewLeaseLocker(client, "streaming", "stackctl-lock", 30*time.Millisecond)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
	require.NoError(t, err)
	name := locker.LeaseName("kind-dev/streaming")

	current, err := client.CoordinationV1().Leases("streaming").Get(ctx, name, metav1.GetOptions{})
	require.NoError(t, err)
	other := "run-2"
	current.Spec.HolderIdentity = &other
	_, err = client.CoordinationV1().Leases("streaming").Update(ctx, current, metav1.UpdateOptions{})
	require.NoError(t, err)

	select {
	case err := <-held.Lost():
		assert.ErrorIs(t, err, lock.ErrLost)
		assert.Contains(t, err.Error(), name)
	case <-time.After(2 * time.Second):
		t.Fatal("lease loss was not reported")
	}

	// The new holder keeps its lease.
	require.NoError(t, held.Release(ctx))
	current, err = client.CoordinationV1().Leases("streaming").Get(ctx, name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "run-2", *current.Spec.HolderIdentity)
}

func TestLeaseLocker_ReportsDeletedLease(t *testing.T) {
	client := fake.NewSimpleClientset()
	locker := NewLeaseLocker(client, "streaming", "stackctl-lock", 30*time.Millisecond)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "kind-dev/streaming", "run-1")
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	require.NoError(t, client.CoordinationV1().Leases("streaming").Delete(ctx, locker.LeaseName("kind-dev/streaming"), metav1.DeleteOptions{}))

	select {
	case err := <-held.Lost():
		assert.ErrorIs(t, err, lock.ErrLost)
	case <-time.After(2 * time.Second):
		t.Fatal("lease loss was not reported")
	}
}
