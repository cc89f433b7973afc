package pregel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/state"
	imetrics "github.com/flowgraph/stategraph/internal/infrastructure/metrics"
)

// Run executes the graph from its entry node with the given initial state.
// It returns the final state, or the paused state together with an
// *InterruptedError, or a typed error and no state.
func (e *Executable) Run(ctx context.Context, input state.State, opts ...RunOption) (out state.State, err error) {
	ctx, r, err := e.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer func() { r.end(err) }()

	if err := r.start(input); err != nil {
		return r.fail(err)
	}
	if r.periodic() {
		r.savePeriodic(ctx, checkpoint.SourceInput)
	}
	return r.loop(ctx)
}

// Resume continues a thread from its most recent checkpoint. Resuming a
// thread whose last run completed returns its final state.
func (e *Executable) Resume(ctx context.Context, threadID string, opts ...RunOption) (out state.State, err error) {
	if e.store == nil {
		return nil, ErrNoCheckpointer
	}
	ctx, r, err := e.begin(ctx, append(opts, WithThreadID(threadID)))
	if err != nil {
		return nil, err
	}
	defer func() { r.end(err) }()

	cp, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp.Done() {
		return state.NormalizeState(cp.State), nil
	}
	r.restore(cp)
	r.logger.Info("resuming run", "step", cp.Step, "frontier", frontierNodes(r.frontier))
	return r.loop(ctx)
}

// RunThread continues a thread the way a caller expects from a
// conversational session: a paused thread resumes with input merged
// into its state, a finished thread starts a new run from its final
// state merged with input, and an unknown thread starts fresh.
func (e *Executable) RunThread(ctx context.Context, threadID string, input state.State, opts ...RunOption) (out state.State, err error) {
	if e.store == nil {
		return nil, ErrNoCheckpointer
	}
	ctx, r, err := e.begin(ctx, append(opts, WithThreadID(threadID)))
	if err != nil {
		return nil, err
	}
	defer func() { r.end(err) }()

	cp, err := e.load(ctx, threadID)
	switch {
	case errors.Is(err, ErrNoCheckpoint):
		if err := r.start(input); err != nil {
			return r.fail(err)
		}
	case err != nil:
		return nil, err
	case cp.Done():
		if err := r.start(e.graph.Schema().Apply(cp.State, state.Update(input))); err != nil {
			return r.fail(err)
		}
	default:
		r.restore(cp)
		if len(input) > 0 {
			r.state = e.graph.Schema().Apply(r.state, state.Update(input))
		}
	}
	return r.loop(ctx)
}

// GetState returns the latest checkpoint of a thread.
func (e *Executable) GetState(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	if e.store == nil {
		return nil, ErrNoCheckpointer
	}
	return e.load(ctx, threadID)
}

// UpdateState merges update into a thread's state through the schema
// reducers, as if written by asNode, and persists the result as a new
// checkpoint. The frontier, visit counts and any pending interrupt are
// kept, so a paused thread resumes with the edited state. A thread with
// no checkpoint gets one positioned at the entry node.
func (e *Executable) UpdateState(ctx context.Context, threadID string, update state.Update, asNode string) (*checkpoint.Checkpoint, error) {
	if e.store == nil {
		return nil, ErrNoCheckpointer
	}
	if asNode != "" {
		if _, ok := e.graph.Node(asNode); !ok {
			return nil, fmt.Errorf("%w: update as %q", graph.ErrUnknownNode, asNode)
		}
	}
	release, err := leases.acquire(ctx, e.store, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.load(ctx, threadID)
	switch {
	case errors.Is(err, ErrNoCheckpoint):
		tracker := NewPathTracker(e.graph.Budgets().MaxVisitsPerPath)
		root := tracker.Root()
		_ = tracker.Schedule(e.graph.Entry(), root)
		cp = &checkpoint.Checkpoint{
			GraphID:  e.graph.Name(),
			ThreadID: threadID,
			State:    state.State{},
			Frontier: []checkpoint.Task{{Node: e.graph.Entry(), Path: string(root)}},
			Visits:   tracker.Visits(),
		}
	case err != nil:
		return nil, err
	}

	next := cp.Clone()
	next.ID = uuid.NewString()
	next.State = e.graph.Schema().Apply(state.NormalizeState(cp.State), update)
	next.Metadata = checkpoint.Metadata{Source: checkpoint.SourceUpdate, Node: asNode, Tags: slices.Clone(cp.Metadata.Tags)}
	if next.Metadata.Node == "" {
		next.Metadata.Node = "user"
	}
	next.Timestamp = time.Now().UTC()
	next.Version = checkpoint.FormatVersion
	if err := e.store.Save(ctx, threadID, next); err != nil {
		imetrics.CheckpointFailed(e.config.StoreKind)
		return nil, &StoreError{Op: "save", ThreadID: threadID, Err: err}
	}
	imetrics.CheckpointSaved(e.config.StoreKind)
	return next.Clone(), nil
}

// History lists a thread's checkpoints, oldest first. The store must
// implement checkpoint.Lister.
func (e *Executable) History(ctx context.Context, threadID string, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if e.store == nil {
		return nil, ErrNoCheckpointer
	}
	lister, ok := e.store.(checkpoint.Lister)
	if !ok {
		return nil, ErrHistoryNotListed
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	cps, err := lister.List(ctx, threadID, filter)
	if err != nil {
		return nil, &StoreError{Op: "list", ThreadID: threadID, Err: err}
	}
	return cps, nil
}

func (e *Executable) load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	cp, err := e.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
	}
	if err != nil {
		return nil, &StoreError{Op: "load", ThreadID: threadID, Err: err}
	}
	if cp.GraphID != e.graph.Name() {
		return nil, fmt.Errorf("%w: thread %q was written by %q", ErrGraphMismatch, threadID, cp.GraphID)
	}
	return cp, nil
}
