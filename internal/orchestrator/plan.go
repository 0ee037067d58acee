package orchestrator

import (
	"fmt"
	"time"

	"stackctl/internal/dependency"
	"stackctl/internal/descriptor"
	"stackctl/internal/health"
	"stackctl/internal/reporting"
)

// Timeouts derives the probe timeout of each stage. Override, when set,
// applies to every stage and wins over per-descriptor timeouts.
type Timeouts struct {
	Critical  time.Duration
	Standard  time.Duration
	Auxiliary time.Duration
	Override  time.Duration
}

// DefaultTimeouts returns the criticality defaults: critical 10m, standard
// 5m, auxiliary 3m.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Critical:  10 * time.Minute,
		Standard:  5 * time.Minute,
		Auxiliary: 3 * time.Minute,
	}
}

// For returns the timeout for d.
func (t Timeouts) For(d *descriptor.Descriptor) time.Duration {
	if t.Override > 0 {
		return t.Override
	}
	if d.Timeout > 0 {
		return d.Timeout
	}
	defaults := DefaultTimeouts()
	switch d.Criticality {
	case descriptor.CriticalityCritical:
		return orDefault(t.Critical, defaults.Critical)
	case descriptor.CriticalityAuxiliary:
		return orDefault(t.Auxiliary, defaults.Auxiliary)
	default:
		return orDefault(t.Standard, defaults.Standard)
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Stage is one step of a plan: a descriptor with its resolved probe and
// timeout.
type Stage struct {
	Descriptor *descriptor.Descriptor
	Probe      health.Probe
	Timeout    time.Duration
}

// Name returns the descriptor name.
func (s Stage) Name() string {
	return s.Descriptor.Name
}

// Plan is an ordered list of stages in which every stage comes strictly after
// the stages it depends on. Ties are broken by name, so the same descriptors
// always produce the same plan.
type Plan struct {
	Stages []Stage
	index  map[string]int
}

// BuildPlan validates descriptors, orders them and resolves their probes.
// Every error it returns matches ErrPlan.
func BuildPlan(descriptors []*descriptor.Descriptor, timeouts Timeouts) (*Plan, error) {
	if err := descriptor.Validate(descriptors); err != nil {
		return nil, err
	}

	g := dependency.New()
	byName := make(map[string]*descriptor.Descriptor, len(descriptors))
	for _, d := range descriptors {
		deps := make([]dependency.NodeID, 0, len(d.DependsOn))
		for _, dep := range d.DependsOn {
			deps = append(deps, dependency.NodeID(dep))
		}
		if err := g.AddNode(dependency.Node{
			ID:           dependency.NodeID(d.Name),
			FriendlyName: d.Name,
			DependsOn:    deps,
		}); err != nil {
			return nil, err
		}
		byName[d.Name] = d
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	plan := &Plan{index: make(map[string]int, len(order))}
	for i, id := range order {
		d := byName[string(id)]
		probe, err := health.New(d.Probe)
		if err != nil {
			return nil, fmt.Errorf("descriptor %q: %w", d.Name, err)
		}
		plan.Stages = append(plan.Stages, Stage{Descriptor: d, Probe: probe, Timeout: timeouts.For(d)})
		plan.index[d.Name] = i
	}
	return plan, nil
}

// Names returns the stage names in plan order.
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		names = append(names, s.Name())
	}
	return names
}

// Stage returns the named stage.
func (p *Plan) Stage(name string) (Stage, bool) {
	i, ok := p.index[name]
	if !ok {
		return Stage{}, false
	}
	return p.Stages[i], true
}

// After returns the stages that come after name, in plan order. An empty
// name returns every stage.
func (p *Plan) After(name string) ([]Stage, error) {
	if name == "" {
		return append([]Stage(nil), p.Stages...), nil
	}
	i, ok := p.index[name]
	if !ok {
		return nil, &UnknownStageError{Name: name}
	}
	return append([]Stage(nil), p.Stages[i+1:]...), nil
}

// Summary describes the plan for rendering.
func (p *Plan) Summary() []reporting.PlannedStage {
	out := make([]reporting.PlannedStage, 0, len(p.Stages))
	for i, s := range p.Stages {
		d := s.Descriptor
		docs := make([]string, 0, len(d.Documents))
		for _, doc := range d.Documents {
			docs = append(docs, doc.String())
		}
		out = append(out, reporting.PlannedStage{
			Order:             i + 1,
			Descriptor:        d.Name,
			DependsOn:         append([]string(nil), d.DependsOn...),
			Documents:         docs,
			Probe:             d.Probe.Type,
			ExpectedInstances: d.ExpectedInstances,
			Timeout:           s.Timeout.String(),
			Criticality:       string(d.Criticality),
			OnProbeTimeout:    string(d.OnProbeTimeout),
		})
	}
	return out
}
