package pregel

import (
	"context"
	"fmt"

	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/state"
)

var _ graph.Node = (*Executable)(nil)

// Invoke runs the graph to completion as a node of an enclosing graph.
// The nested run starts from the parent's snapshot and contributes the
// difference between its final state and that snapshot. With a store
// bound, the nested run checkpoints under "<parent thread>/<node>". A
// nested interrupt cannot be resumed through the parent, so it surfaces
// as this node's failure.
func (e *Executable) Invoke(ctx context.Context, snap graph.Snapshot) (state.Update, error) {
	var opts []RunOption
	if e.store != nil && snap.ThreadID != "" {
		opts = append(opts, WithThreadID(fmt.Sprintf("%s/%s", snap.ThreadID, snap.Node)))
	}
	final, err := e.Run(ctx, snap.State, opts...)
	if ie, ok := IsInterrupted(err); ok {
		return nil, fmt.Errorf("subgraph %q paused %s %v on thread %q: %w",
			e.graph.Name(), ie.Kind, ie.Nodes, ie.ThreadID, ErrInterrupted)
	}
	if err != nil {
		return nil, fmt.Errorf("subgraph %q: %w", e.graph.Name(), err)
	}
	return e.graph.Schema().Delta(snap.State, final), nil
}
