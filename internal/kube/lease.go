package kube

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"stackctl/internal/lock"
	"stackctl/pkg/logging"
)

const targetAnnotation = "stackctl.io/target"

var errTakenOver = errors.New("lease is now held by another holder")

// LeaseLocker implements lock.Locker with coordination.k8s.io Leases, so two
// operators on different machines exclude each other. A held lease is renewed
// in the background until released; a lease whose renew time plus duration
// has passed may be taken over.
type LeaseLocker struct {
	client    kubernetes.Interface
	namespace string
	name      string
	duration  time.Duration

	now func() time.Time
}

var _ lock.Locker = (*LeaseLocker)(nil)

func NewLeaseLocker(client kubernetes.Interface, namespace, name string, duration time.Duration) *LeaseLocker {
	return &LeaseLocker{
		client:    client,
		namespace: namespace,
		name:      name,
		duration:  duration,
		now:       time.Now,
	}
}

// LeaseName returns the Lease object name used for target.
func (l *LeaseLocker) LeaseName(target string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(target))
	return fmt.Sprintf("%s-%08x", l.name, h.Sum32())
}

func (l *LeaseLocker) Acquire(ctx context.Context, target, holder string) (lock.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	leases := l.client.CoordinationV1().Leases(l.namespace)
	name := l.LeaseName(target)
	now := metav1.NewMicroTime(l.now())
	seconds := int32(l.duration / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	existing, err := leases.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		lease := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:        name,
				Namespace:   l.namespace,
				Annotations: map[string]string{targetAnnotation: target},
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &holder,
				LeaseDurationSeconds: &seconds,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, err := leases.Create(ctx, lease, metav1.CreateOptions{}); err != nil {
			if apierrors.IsAlreadyExists(err) {
				return nil, l.heldBy(ctx, target, name)
			}
			return nil, fmt.Errorf("failed to create lease %s: %w", name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to get lease %s: %w", name, err)
	default:
		if l.isHeld(existing) {
			return nil, heldError(target, existing)
		}
		updated := existing.DeepCopy()
		if updated.Annotations == nil {
			updated.Annotations = map[string]string{}
		}
		updated.Annotations[targetAnnotation] = target
		updated.Spec.HolderIdentity = &holder
		updated.Spec.LeaseDurationSeconds = &seconds
		updated.Spec.AcquireTime = &now
		updated.Spec.RenewTime = &now
		if _, err := leases.Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
			if apierrors.IsConflict(err) {
				return nil, l.heldBy(ctx, target, name)
			}
			return nil, fmt.Errorf("failed to take over lease %s: %w", name, err)
		}
		if existing.Spec.HolderIdentity != nil && *existing.Spec.HolderIdentity != "" {
			logging.Warn("Lock", "Took over expired lease %s from %s", name, *existing.Spec.HolderIdentity)
		}
	}

	held := &leaseHandle{
		locker: l,
		target: target,
		holder: holder,
		name:   name,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lost:   make(chan error, 1),
	}
	go held.renew()
	logging.Debug("Lock", "Acquired lease %s/%s for %s", l.namespace, name, target)
	return held, nil
}

func (l *LeaseLocker) isHeld(lease *coordinationv1.Lease) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return false
	}
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	expiry := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return l.now().Before(expiry)
}

func (l *LeaseLocker) heldBy(ctx context.Context, target, name string) error {
	current, err := l.client.CoordinationV1().Leases(l.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return &lock.HeldError{Target: target}
	}
	return heldError(target, current)
}

func heldError(target string, lease *coordinationv1.Lease) error {
	held := &lock.HeldError{Target: target}
	if lease.Spec.HolderIdentity != nil {
		held.Holder = *lease.Spec.HolderIdentity
	}
	if lease.Spec.AcquireTime != nil {
		held.Since = lease.Spec.AcquireTime.Time
	}
	return held
}

type leaseHandle struct {
	locker *LeaseLocker
	target string
	holder string
	name   string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	lost     chan error
}

func (h *leaseHandle) Target() string { return h.target }
func (h *leaseHandle) Holder() string { return h.holder }

func (h *leaseHandle) Lost() <-chan error { return h.lost }

// renew keeps the lease alive until Release. The lease is reported lost when
// another holder owns it or when no renewal succeeded for a whole lease
// duration; renewal stops at that point.
func (h *leaseHandle) renew() {
	defer close(h.done)
	interval := h.locker.duration / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastRenew := h.locker.now()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			err := h.renewOnce()
			if err == nil {
				lastRenew = h.locker.now()
				continue
			}
			logging.Warn("Lock", "Failed to renew lease %s: %v", h.name, err)
			if errors.Is(err, errTakenOver) || h.locker.now().Sub(lastRenew) >= h.locker.duration {
				h.lost <- fmt.Errorf("%w: lease %s for %s: %v", lock.ErrLost, h.name, h.target, err)
				return
			}
		}
	}
}

func (h *leaseHandle) renewOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	leases := h.locker.client.CoordinationV1().Leases(h.locker.namespace)
	current, err := leases.Get(ctx, h.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return errTakenOver
	}
	if err != nil {
		return err
	}
	if current.Spec.HolderIdentity == nil || *current.Spec.HolderIdentity != h.holder {
		return errTakenOver
	}
	now := metav1.NewMicroTime(h.locker.now())
	current.Spec.RenewTime = &now
	_, err = leases.Update(ctx, current, metav1.UpdateOptions{})
	return err
}

// Release stops renewal and deletes the lease if this holder still owns it.
// Releasing twice, or after another holder took over, is a no-op.
func (h *leaseHandle) Release(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done

	leases := h.locker.client.CoordinationV1().Leases(h.locker.namespace)
	current, err := leases.Get(ctx, h.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get lease %s: %w", h.name, err)
	}
	if current.Spec.HolderIdentity == nil || *current.Spec.HolderIdentity != h.holder {
		return nil
	}
	if err := leases.Delete(ctx, h.name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete lease %s: %w", h.name, err)
	}
	logging.Debug("Lock", "Released lease %s for %s", h.name, h.target)
	return nil
}
