package engine

import (
	"context"
	"fmt"
)

// Spec describes one configured engine. The set of engines for a session is
// fixed at session creation; live reconfiguration only affects new sessions.
type Spec struct {
	// ID identifies the engine within a session ("google-a", "kaldi-b", ...).
	ID string
	// Kind selects the adapter implementation ("mock", "google", "kaldi").
	Kind string
	// URL is the backend endpoint for socket-based engines.
	URL string
	// Options are applied via Configure before Start.
	Options Options
}

// Factory constructs an adapter for a spec. The closed set of kinds is
// resolved at session-configuration time, not by runtime type inspection.
type Factory func(ctx context.Context, spec Spec) (Adapter, error)

// Member pairs an engine ID with its adapter.
type Member struct {
	ID      string
	Adapter Adapter
}

// Pool owns the configured adapters for one session and supplies them to the
// distributor. Adapters are never shared across sessions.
type Pool struct {
	members []Member
	primary string
}

// NewPool builds and configures one adapter per spec. The first spec is the
// primary engine unless primaryID names another member.
func NewPool(ctx context.Context, specs []Spec, primaryID string, factory Factory) (*Pool, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no engines configured")
	}
	p := &Pool{}
	seen := map[string]bool{}
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("engine spec with empty id")
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("duplicate engine id %q", spec.ID)
		}
		seen[spec.ID] = true
		a, err := factory(ctx, spec)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("build engine %s: %w", spec.ID, err)
		}
		if err := a.Configure(spec.Options); err != nil {
			_ = a.Close()
			p.Close()
			return nil, fmt.Errorf("configure engine %s: %w", spec.ID, err)
		}
		p.members = append(p.members, Member{ID: spec.ID, Adapter: a})
	}
	p.primary = specs[0].ID
	if primaryID != "" && seen[primaryID] {
		p.primary = primaryID
	}
	return p, nil
}

// Members returns the adapters in configuration order.
func (p *Pool) Members() []Member {
	return p.members
}

// Size returns the number of configured engines.
func (p *Pool) Size() int {
	return len(p.members)
}

// Primary returns the ID of the primary engine used as the alignment anchor.
func (p *Pool) Primary() string {
	return p.primary
}

// Close closes every adapter. Safe to call with partially built pools.
func (p *Pool) Close() {
	for _, m := range p.members {
		_ = m.Adapter.Close()
	}
}
