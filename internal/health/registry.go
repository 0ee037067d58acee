package health

import (
	"fmt"
	"sort"
	"sync"

	"stackctl/internal/dependency"
	"stackctl/internal/descriptor"
)

// Factory builds a probe from a descriptor's probe settings.
type Factory func(spec descriptor.ProbeSpec) (Probe, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register(descriptor.ProbeCount, newCountProbe)
	Register(descriptor.ProbeExec, newExecProbe)
	Register(descriptor.ProbeZooKeeper, newZooKeeperProbe)
	Register(descriptor.ProbeKafka, newKafkaProbe)
}

// Register adds a probe type. Registering the same type twice panics.
func Register(probeType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[probeType]; found {
		panic(fmt.Errorf("already have probe type '%s'", probeType))
	}
	registry[probeType] = factory
}

// UnknownProbeError is returned by New for an unregistered type. It matches
// dependency.ErrPlan since it is detected before touching the cluster.
type UnknownProbeError struct {
	Type string
}

func (e *UnknownProbeError) Error() string {
	return fmt.Sprintf("unknown probe type %q (registered: %v)", e.Type, Registered())
}

func (e *UnknownProbeError) Is(target error) bool { return target == dependency.ErrPlan }

// New builds the probe registered for spec.Type.
func New(spec descriptor.ProbeSpec) (Probe, error) {
	registryMu.RLock()
	factory, found := registry[spec.Type]
	registryMu.RUnlock()
	if !found {
		return nil, &UnknownProbeError{Type: spec.Type}
	}
	return factory(spec)
}

// Registered lists the registered probe types, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
