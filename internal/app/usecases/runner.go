package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/pregel"
	"github.com/flowgraph/stategraph/internal/core/state"
	"github.com/flowgraph/stategraph/internal/infrastructure/logging"
)

// ErrDeleteUnsupported is returned when the store cannot drop threads.
var ErrDeleteUnsupported = errors.New("checkpoint store cannot delete threads")

// Runner executes registered graphs on behalf of request handlers.
type Runner struct {
	graphs  GraphRepository
	budgets *graph.Budgets
	now     func() time.Time
}

var _ GraphRunner = (*Runner)(nil)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDefaultBudgets applies b to runs whose request carries no budgets.
// Non-zero fields override the graph's own budgets.
func WithDefaultBudgets(b graph.Budgets) RunnerOption {
	return func(r *Runner) { r.budgets = &b }
}

// NewRunner creates a Runner over graphs.
func NewRunner(graphs GraphRepository, opts ...RunnerOption) *Runner {
	r := &Runner{graphs: graphs, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes req. A paused run is not an error: the response carries
// status interrupted. A failed run returns both a response describing the
// failure and the error.
func (r *Runner) Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exec, err := r.graphs.Get(req.Graph)
	if err != nil {
		return nil, err
	}
	threadID := req.ThreadID
	if threadID == "" {
		if req.Continue {
			return nil, dto.ErrMissingThreadID
		}
		threadID = uuid.NewString()
	}

	opts := []pregel.RunOption{pregel.WithThreadID(threadID)}
	if budgets := r.runBudgets(req.Budgets); budgets != nil {
		opts = append(opts, pregel.WithBudgets(*budgets))
	}
	if len(req.InterruptBefore) > 0 {
		opts = append(opts, pregel.WithInterruptBefore(req.InterruptBefore...))
	}
	if len(req.InterruptAfter) > 0 {
		opts = append(opts, pregel.WithInterruptAfter(req.InterruptAfter...))
	}
	if len(req.Tags) > 0 {
		opts = append(opts, pregel.WithTags(req.Tags...))
	}

	start := r.now()
	var out state.State
	if req.Continue {
		out, err = exec.RunThread(ctx, threadID, state.State(req.Input), opts...)
	} else {
		out, err = exec.Run(ctx, state.State(req.Input), opts...)
	}
	return r.respond(ctx, req.Graph, threadID, start, out, err)
}

// Resume continues a paused thread.
func (r *Runner) Resume(ctx context.Context, req *dto.ThreadRequest) (*dto.RunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exec, err := r.graphs.Get(req.Graph)
	if err != nil {
		return nil, err
	}
	var opts []pregel.RunOption
	if budgets := r.runBudgets(nil); budgets != nil {
		opts = append(opts, pregel.WithBudgets(*budgets))
	}
	start := r.now()
	out, err := exec.Resume(ctx, req.ThreadID, opts...)
	if errors.Is(err, pregel.ErrNoCheckpoint) || errors.Is(err, pregel.ErrNoCheckpointer) {
		return nil, err
	}
	return r.respond(ctx, req.Graph, req.ThreadID, start, out, err)
}

// State returns the latest checkpoint of a thread.
func (r *Runner) State(ctx context.Context, req *dto.ThreadRequest) (*dto.CheckpointView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exec, err := r.graphs.Get(req.Graph)
	if err != nil {
		return nil, err
	}
	cp, err := exec.GetState(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}
	view := dto.NewCheckpointView(cp)
	return &view, nil
}

// History lists a thread's checkpoints that match filter.
func (r *Runner) History(ctx context.Context, req *dto.ThreadRequest, filter checkpoint.Filter) ([]dto.CheckpointView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exec, err := r.graphs.Get(req.Graph)
	if err != nil {
		return nil, err
	}
	cps, err := exec.History(ctx, req.ThreadID, filter)
	if err != nil {
		return nil, err
	}
	views := make([]dto.CheckpointView, 0, len(cps))
	for _, cp := range cps {
		views = append(views, dto.NewCheckpointView(cp))
	}
	return views, nil
}

// Update merges req.Update into the thread's state.
func (r *Runner) Update(ctx context.Context, req *dto.UpdateRequest) (*dto.CheckpointView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exec, err := r.graphs.Get(req.Graph)
	if err != nil {
		return nil, err
	}
	cp, err := exec.UpdateState(ctx, req.ThreadID, state.Update(req.Update), req.AsNode)
	if err != nil {
		return nil, err
	}
	view := dto.NewCheckpointView(cp)
	return &view, nil
}

// Delete drops every checkpoint of a thread. The thread must belong to
// req.Graph.
func (r *Runner) Delete(ctx context.Context, req *dto.ThreadRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	exec, err := r.graphs.Get(req.Graph)
	if err != nil {
		return err
	}
	deleter, ok := exec.Store().(checkpoint.Deleter)
	if !ok {
		return ErrDeleteUnsupported
	}
	if _, err := exec.GetState(ctx, req.ThreadID); err != nil {
		return err
	}
	if err := deleter.Delete(ctx, req.ThreadID); err != nil {
		return fmt.Errorf("delete thread %q: %w", req.ThreadID, err)
	}
	logging.FromContext(ctx).Info("thread deleted", "graph", req.Graph, "thread_id", req.ThreadID)
	return nil
}

func (r *Runner) runBudgets(requested *graph.Budgets) *graph.Budgets {
	if requested != nil {
		return requested
	}
	return r.budgets
}

func (r *Runner) respond(ctx context.Context, graphName, threadID string, start time.Time, out state.State, err error) (*dto.RunResponse, error) {
	resp := &dto.RunResponse{
		Graph:     graphName,
		ThreadID:  threadID,
		Status:    dto.RunStatusCompleted,
		State:     out,
		StartTime: start,
		Duration:  r.now().Sub(start),
	}
	logger := logging.FromContext(ctx).With("graph", graphName, "thread_id", threadID)

	if ie, ok := pregel.IsInterrupted(err); ok {
		resp.Status = dto.RunStatusInterrupted
		resp.Interrupt = &dto.InterruptInfo{Kind: ie.Kind, Nodes: ie.Nodes, Step: ie.Step}
		logger.Info("run paused", "kind", ie.Kind, "nodes", ie.Nodes, "step", ie.Step)
		return resp, nil
	}
	if err != nil {
		resp.Status = dto.RunStatusFailed
		if errors.Is(err, pregel.ErrCanceled) || errors.Is(err, context.Canceled) {
			resp.Status = dto.RunStatusCanceled
		}
		resp.Error = err.Error()
		logger.Warn("run did not complete", "status", resp.Status, "error", err)
		return resp, fmt.Errorf("run %s on thread %q: %w", graphName, threadID, err)
	}
	logger.Debug("run completed", "duration", resp.Duration)
	return resp, nil
}
