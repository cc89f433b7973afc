package pregel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/state"
	"github.com/flowgraph/stategraph/internal/infrastructure/logging"
	imetrics "github.com/flowgraph/stategraph/internal/infrastructure/metrics"
)

// run is the mutable state of one invocation. Only the loop goroutine
// touches it between supersteps; node tasks only read r.state through
// their own clones.
type run struct {
	exec     *Executable
	graph    *graph.Graph
	threadID string
	store    checkpoint.Store
	budgets  graph.Budgets
	before   map[string]bool
	after    map[string]bool
	every    int
	tags     []string
	logger   *slog.Logger
	streamer *Streamer
	span     trace.Span
	release  func()
	started  time.Time

	state      state.State
	step       uint64
	frontier   []task
	tracker    *PathTracker
	skipBefore bool
}

// begin resolves options, takes the thread lease and starts the event
// stream and run span. The returned run must be finished with end.
func (e *Executable) begin(ctx context.Context, opts []RunOption) (context.Context, *run, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	for _, name := range append(slices.Clone(o.before), o.after...) {
		if _, ok := e.graph.Node(name); !ok {
			return ctx, nil, fmt.Errorf("%w: interrupt on %s", graph.ErrUnknownNode, name)
		}
	}
	budgets := e.graph.Budgets().Override(o.budgets)
	if err := budgets.Validate(); err != nil {
		return ctx, nil, err
	}

	r := &run{
		exec:    e,
		graph:   e.graph,
		store:   e.store,
		budgets: budgets,
		before:  make(map[string]bool),
		after:   make(map[string]bool),
		every:   e.config.CheckpointEvery,
		tags:    o.tags,
		started: time.Now(),
		release: func() {},
	}
	if r.every == 0 {
		r.every = 1
	}
	if o.checkpointEvery != nil {
		r.every = *o.checkpointEvery
	}
	for _, name := range e.graph.NodeNames() {
		r.before[name] = e.graph.InterruptsBefore(name)
		r.after[name] = e.graph.InterruptsAfter(name)
	}
	for _, name := range o.before {
		r.before[name] = true
	}
	for _, name := range o.after {
		r.after[name] = true
	}

	r.threadID = o.threadID
	if r.threadID == "" {
		r.threadID = e.threadID
	}
	if r.threadID == "" && r.store != nil {
		r.threadID = uuid.NewString()
	}
	if r.store != nil {
		release, err := leases.acquire(ctx, r.store, r.threadID)
		if err != nil {
			return ctx, nil, err
		}
		r.release = release
	}

	r.logger = e.config.Logger
	if r.logger == nil {
		r.logger = logging.FromContext(ctx)
	}
	r.logger = r.logger.With("graph", e.graph.Name(), "thread_id", r.threadID)
	ctx = logging.WithLogger(ctx, r.logger)

	handlers := append(slices.Clone(e.config.Handlers), o.handlers...)
	r.streamer = NewStreamer(e.config.EventBuffer, r.logger, handlers...)
	r.streamer.Start()

	ctx, r.span = e.tracer.Start(ctx, "stategraph.run", trace.WithAttributes(
		attribute.String("stategraph.graph", e.graph.Name()),
		attribute.String("stategraph.thread_id", r.threadID),
	))
	imetrics.RunStarted()
	return ctx, r, nil
}

// end records the outcome and releases the run's resources.
func (r *run) end(err error) {
	outcome := "completed"
	_, paused := IsInterrupted(err)
	switch {
	case err == nil:
	case paused:
		outcome = "interrupted"
	case errors.Is(err, ErrCanceled):
		outcome = "canceled"
	default:
		outcome = "failed"
		r.span.SetStatus(codes.Error, err.Error())
		r.span.RecordError(err)
	}
	imetrics.RunFinished(outcome)
	r.span.SetAttributes(attribute.String("stategraph.outcome", outcome), attribute.Int64("stategraph.steps", int64(r.step)))
	r.span.End()
	r.streamer.Close()
	r.release()
}

// start prepares a fresh run from the entry node. The input is
// normalized so a run reads the same Go types before and after a
// checkpoint round trip.
func (r *run) start(input state.State) error {
	r.state = state.NormalizeState(input)
	r.tracker = NewPathTracker(r.budgets.MaxVisitsPerPath)
	root := r.tracker.Root()
	r.frontier = []task{{node: r.graph.Entry(), path: root}}
	return r.tracker.Schedule(r.graph.Entry(), root)
}

// restore continues from a checkpoint. Visit counts of the saved
// frontier were recorded when it was scheduled and are not counted again.
func (r *run) restore(cp *checkpoint.Checkpoint) {
	r.state = state.NormalizeState(cp.State)
	r.step = cp.Step
	r.frontier = fromCheckpointTasks(cp.Frontier)
	r.tracker = RestoreTracker(r.budgets.MaxVisitsPerPath, cp.Visits, cp.Lineage)
	r.skipBefore = cp.Pending != nil && cp.Pending.Kind == checkpoint.InterruptBefore
}

// loop advances supersteps until the run completes, pauses or fails.
func (r *run) loop(ctx context.Context) (state.State, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.cancel(ctx, err)
		}
		if len(r.frontier) == 0 {
			return r.complete(ctx)
		}
		if err := r.checkBudgets(); err != nil {
			return r.fail(err)
		}

		if !r.skipBefore {
			var paused []string
			for _, t := range r.frontier {
				if r.before[t.node] {
					paused = append(paused, t.node)
				}
			}
			if len(paused) > 0 {
				return r.interrupt(ctx, checkpoint.InterruptBefore, paused)
			}
		}
		r.skipBefore = false

		imetrics.IncSupersteps()
		r.emit(Event{Type: EventSuperstepStarted, Data: map[string]any{"frontier": frontierNodes(r.frontier)}})
		r.logger.Debug("superstep started", "step", r.step, "frontier", frontierNodes(r.frontier))

		outcomes, err := r.executeSuperstep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.cancel(ctx, ctx.Err())
			}
			return r.fail(err)
		}

		updates := make([]state.Update, 0, len(outcomes))
		for _, out := range outcomes {
			if !out.skipped && out.update != nil {
				updates = append(updates, out.update)
			}
		}
		merged := r.graph.Schema().Apply(r.state, updates...)

		next, err := r.nextFrontier(merged, outcomes)
		if err != nil {
			return r.fail(err)
		}
		ran := r.frontier
		r.state = merged
		r.step++
		r.frontier = next

		for _, t := range next {
			if err := r.tracker.Schedule(t.node, t.path); err != nil {
				return r.fail(err)
			}
		}
		r.tracker.Prune(pathsOf(next))

		var pausedAfter []string
		for i, t := range ran {
			if r.after[t.node] && !outcomes[i].skipped && !slices.Contains(pausedAfter, t.node) {
				pausedAfter = append(pausedAfter, t.node)
			}
		}
		if len(pausedAfter) > 0 {
			return r.interrupt(ctx, checkpoint.InterruptAfter, pausedAfter)
		}

		if len(r.frontier) > 0 && r.periodic() && r.step%uint64(r.every) == 0 {
			r.savePeriodic(ctx, checkpoint.SourceLoop)
		}
	}
}

func pathsOf(frontier []task) []graph.PathID {
	out := make([]graph.PathID, len(frontier))
	for i, t := range frontier {
		out[i] = t.path
	}
	return out
}

func (r *run) checkBudgets() error {
	elapsed := time.Since(r.started)
	if r.budgets.MaxDuration > 0 && elapsed > r.budgets.MaxDuration {
		return &BudgetError{Budget: "max_duration", Limit: r.budgets.MaxDuration.String(), Step: r.step, Elapsed: elapsed}
	}
	if r.budgets.MaxSteps > 0 && r.step >= uint64(r.budgets.MaxSteps) {
		return &BudgetError{Budget: "max_steps", Limit: fmt.Sprint(r.budgets.MaxSteps), Step: r.step, Elapsed: elapsed}
	}
	return nil
}

func (r *run) periodic() bool {
	return r.store != nil && r.every > 0
}

func (r *run) complete(ctx context.Context) (state.State, error) {
	if r.periodic() {
		r.savePeriodic(ctx, checkpoint.SourceDone)
	}
	r.emit(Event{Type: EventCompleted, Duration: time.Since(r.started)})
	r.logger.Info("run completed", "steps", r.step, "duration", time.Since(r.started))
	return r.state, nil
}

// fail ends the run with an error. No state is returned.
func (r *run) fail(err error) (state.State, error) {
	r.emit(Event{Type: EventFailed, Error: err.Error()})
	r.logger.Warn("run failed", "step", r.step, "error", err)
	return nil, err
}

// interrupt persists the paused run. A failed save is fatal because the
// checkpoint is the caller's only handle on the in-flight state.
func (r *run) interrupt(ctx context.Context, kind checkpoint.InterruptKind, nodes []string) (state.State, error) {
	if r.store == nil {
		return r.fail(&StoreError{Op: "save", ThreadID: r.threadID, Err: ErrNoCheckpointer})
	}
	cp := r.checkpoint(checkpoint.SourceInterrupt, &checkpoint.Interrupt{Kind: kind, Nodes: nodes})
	cp.Metadata.Node = nodes[0]
	if err := r.save(ctx, cp); err != nil {
		return r.fail(err)
	}
	imetrics.IncInterrupts()
	r.emit(Event{Type: EventInterrupted, Node: nodes[0], Data: map[string]any{"kind": string(kind), "nodes": nodes}})
	r.logger.Info("run interrupted", "kind", kind, "nodes", nodes, "step", r.step)
	return r.state, &InterruptedError{ThreadID: r.threadID, Kind: kind, Nodes: nodes, Step: r.step}
}

// cancel stops between supersteps and keeps the last consistent state
// resumable.
func (r *run) cancel(ctx context.Context, cause error) (state.State, error) {
	if r.store != nil {
		saveCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		r.savePeriodic(saveCtx, checkpoint.SourceCancel)
		done()
	}
	err := fmt.Errorf("%w at step %d: %w", ErrCanceled, r.step, cause)
	r.emit(Event{Type: EventFailed, Error: err.Error()})
	r.logger.Info("run canceled", "step", r.step, "error", cause)
	return r.state, err
}

func (r *run) checkpoint(source checkpoint.Source, pending *checkpoint.Interrupt) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:        uuid.NewString(),
		GraphID:   r.graph.Name(),
		ThreadID:  r.threadID,
		Step:      r.step,
		State:     r.state.Clone(),
		Frontier:  toCheckpointTasks(r.frontier),
		Visits:    r.tracker.Visits(),
		Lineage:   r.tracker.Lineage(),
		Pending:   pending,
		Metadata:  checkpoint.Metadata{Source: source, Tags: slices.Clone(r.tags)},
		Timestamp: time.Now().UTC(),
		Version:   checkpoint.FormatVersion,
	}
}

func (r *run) save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := r.store.Save(ctx, r.threadID, cp); err != nil {
		imetrics.CheckpointFailed(r.exec.config.StoreKind)
		r.emit(Event{Type: EventCheckpointFailed, Error: err.Error(), Data: map[string]any{"source": string(cp.Metadata.Source)}})
		return &StoreError{Op: "save", ThreadID: r.threadID, Err: err}
	}
	imetrics.CheckpointSaved(r.exec.config.StoreKind)
	r.emit(Event{Type: EventCheckpointSaved, Data: map[string]any{
		"checkpoint_id": cp.ID,
		"seq":           cp.Seq,
		"source":        string(cp.Metadata.Source),
	}})
	return nil
}

// savePeriodic writes a snapshot whose failure does not stop the run.
func (r *run) savePeriodic(ctx context.Context, source checkpoint.Source) {
	if err := r.save(ctx, r.checkpoint(source, nil)); err != nil {
		r.logger.Warn("checkpoint save failed, continuing", "source", source, "step", r.step, "error", err)
	}
}

func (r *run) emit(event Event) {
	event.Graph = r.graph.Name()
	event.ThreadID = r.threadID
	event.Step = r.step
	r.streamer.Emit(event)
}
