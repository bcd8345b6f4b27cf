// Package usecase wires commands through the engine: resolve the entity
// definition, load and sync the aggregate, run the command-method, commit,
// and project the committed events.
package usecase

import (
	"fmt"
	"sort"

	"nodelife.io/nodelife/internal/aggregate"
	"nodelife.io/nodelife/internal/domain"
)

// Definition describes one entity label: its capability traits and any
// lifecycle enrichers its aggregates carry.
type Definition struct {
	Label     string
	Traits    domain.Traits
	Enrichers []aggregate.Enricher
}

// Registry maps entity labels to definitions. It is built once at startup
// and passed by reference; there is no package-level registry.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry creates a registry from the given definitions.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Duplicate labels are a wiring bug.
func (r *Registry) Register(def Definition) error {
	if def.Label == "" {
		return fmt.Errorf("register definition: empty label")
	}
	if _, exists := r.defs[def.Label]; exists {
		return fmt.Errorf("register definition: duplicate label %q", def.Label)
	}
	r.defs[def.Label] = def
	return nil
}

// Lookup resolves a label.
func (r *Registry) Lookup(label string) (Definition, bool) {
	def, ok := r.defs[label]
	return def, ok
}

// Traits returns the capability set for a label, zero when unknown. It
// satisfies watcher.TraitsLookup.
func (r *Registry) Traits(label string) domain.Traits {
	return r.defs[label].Traits
}

// Labels returns the registered labels in sorted order.
func (r *Registry) Labels() []string {
	out := make([]string, 0, len(r.defs))
	for label := range r.defs {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
