package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

type memoryEntry struct {
	holder string
	token  string
	since  time.Time
}

// MemoryLocker is an in-process Locker. It protects targets driven from a
// single process, such as several namespaces orchestrated concurrently.
type MemoryLocker struct {
	held cmap.ConcurrentMap[string, memoryEntry]
}

var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: cmap.New[memoryEntry]()}
}

func (l *MemoryLocker) Acquire(ctx context.Context, target, holder string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry := memoryEntry{holder: holder, token: uuid.NewString(), since: time.Now()}
	if !l.held.SetIfAbsent(target, entry) {
		current, _ := l.held.Get(target)
		return nil, &HeldError{Target: target, Holder: current.holder, Since: current.since}
	}
	return &memoryLease{locker: l, target: target, entry: entry}, nil
}

// Holders returns the current holder per locked target.
func (l *MemoryLocker) Holders() map[string]string {
	out := make(map[string]string)
	for target, entry := range l.held.Items() {
		out[target] = entry.holder
	}
	return out
}

type memoryLease struct {
	locker *MemoryLocker
	target string
	entry  memoryEntry
}

func (m *memoryLease) Target() string { return m.target }
func (m *memoryLease) Holder() string { return m.entry.holder }

// Lost returns nil: an in-process lease is held until released.
func (m *memoryLease) Lost() <-chan error { return nil }

func (m *memoryLease) Release(context.Context) error {
	m.locker.held.RemoveCb(m.target, func(_ string, current memoryEntry, exists bool) bool {
		return exists && current.token == m.entry.token
	})
	return nil
}
