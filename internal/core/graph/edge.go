package graph

import "github.com/flowgraph/stategraph/internal/core/state"

// Router picks the successors of a node from the merged state. Returning
// no names ends the lineage; returning several fans it out.
type Router func(s state.State) []string

// Conditional is a routing function plus the targets it may return.
// An empty Targets list means any node name is allowed.
type Conditional struct {
	Router  Router
	Targets []string
}

func (c *Conditional) allows(name string) bool {
	if len(c.Targets) == 0 {
		return true
	}
	for _, t := range c.Targets {
		if t == name {
			return true
		}
	}
	return false
}
