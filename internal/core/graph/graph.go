// Package graph describes a state graph: named nodes, static and
// conditional edges, interrupt points and execution budgets. A Graph is
// immutable once built and safe to share between concurrent runs.
package graph

import (
	"fmt"
	"slices"
	"time"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/state"
)

// Graph is a validated, immutable graph definition.
type Graph struct {
	name        string
	schema      *state.Schema
	nodes       map[string]*Spec
	order       []string
	edges       map[string][]string
	conditional map[string]*Conditional
	entry       string
	before      map[string]bool
	after       map[string]bool
	budgets     Budgets
	store       checkpoint.Store
	threadID    string
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Schema returns the state schema.
func (g *Graph) Schema() *state.Schema { return g.schema }

// Entry returns the entry node.
func (g *Graph) Entry() string { return g.entry }

// Budgets returns the graph-level budgets.
func (g *Graph) Budgets() Budgets { return g.budgets }

// Checkpointer returns the bound store and default thread id, if any.
func (g *Graph) Checkpointer() (checkpoint.Store, string) { return g.store, g.threadID }

// Node returns a registered node.
func (g *Graph) Node(name string) (*Spec, bool) {
	spec, ok := g.nodes[name]
	return spec, ok
}

// NodeNames returns node names in registration order.
func (g *Graph) NodeNames() []string { return slices.Clone(g.order) }

// Edges returns the static targets of a node.
func (g *Graph) Edges(name string) []string { return slices.Clone(g.edges[name]) }

// InterruptsBefore reports whether a run pauses before name.
func (g *Graph) InterruptsBefore(name string) bool { return g.before[name] }

// InterruptsAfter reports whether a run pauses after name.
func (g *Graph) InterruptsAfter(name string) bool { return g.after[name] }

// Successors returns the nodes that follow name given the merged state:
// static targets in declaration order, then router targets in the order
// returned, without duplicates. END is kept so callers can tell a
// finished lineage from a dead end. The router sees a copy of merged.
func (g *Graph) Successors(name string, merged state.State) ([]string, error) {
	out := slices.Clone(g.edges[name])
	c, ok := g.conditional[name]
	if !ok {
		return out, nil
	}
	targets, rec := route(c.Router, merged.Clone())
	if rec != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRouterPanic, name, rec)
	}
	for _, target := range targets {
		if target != END {
			if _, known := g.nodes[target]; !known || !c.allows(target) {
				return nil, fmt.Errorf("%w: %s -> %q", ErrUnknownTarget, name, target)
			}
		}
		if !slices.Contains(out, target) {
			out = append(out, target)
		}
	}
	return out, nil
}

func route(r Router, s state.State) (targets []string, rec any) {
	defer func() { rec = recover() }()
	return r(s), nil
}

// Timeout returns the effective per-attempt timeout of a node.
func (g *Graph) Timeout(spec *Spec) time.Duration {
	if spec.Policy.Timeout > 0 {
		return spec.Policy.Timeout
	}
	return g.budgets.NodeTimeout
}
