package pregel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/state"
	imetrics "github.com/flowgraph/stategraph/internal/infrastructure/metrics"
)

// outcome is the result of one frontier entry.
type outcome struct {
	update state.Update
	// skipped is set for a tolerated failure: no update, no successors.
	skipped bool
}

// runTask executes one frontier entry under its policy: attempts with
// exponential backoff, then the fallback, then tolerance. Every attempt
// sees its own copy of the pre-superstep state.
func (r *run) runTask(ctx context.Context, t task, base state.State) (outcome, error) {
	spec, _ := r.graph.Node(t.node)
	policy := spec.Policy
	timeout := r.graph.Timeout(spec)

	ctx, span := r.exec.tracer.Start(ctx, "stategraph.node", trace.WithAttributes(
		attribute.String("stategraph.node", t.node),
		attribute.String("stategraph.path", string(t.path)),
		attribute.Int64("stategraph.step", int64(r.step)),
	))
	defer span.End()

	attempts := 1
	if policy.Retry != nil {
		attempts = policy.Retry.MaxAttempts
	}

	r.emit(Event{Type: EventNodeEntered, Node: t.node, Path: t.path})
	imetrics.IncNodeExecs(t.node)

	var (
		err     error
		attempt int
	)
	for attempt = 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := policy.Retry.Backoff(attempt - 1)
			r.emit(Event{Type: EventNodeRetried, Node: t.node, Path: t.path, Attempt: attempt, Error: err.Error()})
			imetrics.IncNodeRetries(t.node)
			if werr := sleep(ctx, delay); werr != nil {
				err = werr
				break
			}
		}
		started := time.Now()
		var upd state.Update
		upd, err = invokeNode(ctx, spec.Node, r.snapshotFor(t, base, attempt), timeout)
		if err == nil {
			r.emit(Event{Type: EventNodeCompleted, Node: t.node, Path: t.path, Attempt: attempt, Duration: time.Since(started)})
			span.SetAttributes(attribute.Int("stategraph.attempts", attempt))
			return outcome{update: upd}, nil
		}
		if ctx.Err() != nil || policy.Retry == nil || !policy.Retry.Retryable(err) {
			break
		}
	}
	attempt = min(attempt, attempts)

	if policy.Fallback != nil && ctx.Err() == nil {
		started := time.Now()
		upd, ferr := invokeNode(ctx, policy.Fallback, r.snapshotFor(t, base, attempt), timeout)
		if ferr == nil {
			r.emit(Event{Type: EventNodeCompleted, Node: t.node, Path: t.path, Attempt: attempt,
				Duration: time.Since(started), Data: map[string]any{"fallback": true, "cause": err.Error()}})
			return outcome{update: upd}, nil
		}
		err = fmt.Errorf("%w (fallback: %w)", err, ferr)
	}

	imetrics.IncNodeFailures(t.node)
	span.RecordError(err)
	nodeErr := &NodeError{Node: t.node, Path: t.path, Step: r.step, Attempts: attempt, Err: err}

	if policy.Tolerant && ctx.Err() == nil {
		r.emit(Event{Type: EventNodeFailed, Node: t.node, Path: t.path, Attempt: attempt,
			Error: err.Error(), Data: map[string]any{"tolerated": true}})
		r.logger.Warn("tolerated node failure", "node", t.node, "path", t.path, "error", err)
		return outcome{skipped: true}, nil
	}

	span.SetStatus(codes.Error, err.Error())
	r.emit(Event{Type: EventNodeFailed, Node: t.node, Path: t.path, Attempt: attempt, Error: err.Error()})
	return outcome{}, nodeErr
}

func (r *run) snapshotFor(t task, base state.State, attempt int) graph.Snapshot {
	return graph.Snapshot{
		State:    base.Clone(),
		Step:     r.step,
		ThreadID: r.threadID,
		Node:     t.node,
		Path:     t.path,
		Attempt:  attempt,
	}
}

// invokeNode runs one attempt, bounded by timeout when positive. A node
// that ignores cancellation is abandoned once the timeout fires.
func invokeNode(ctx context.Context, n graph.Node, snap graph.Snapshot, timeout time.Duration) (state.Update, error) {
	if timeout <= 0 {
		return safeInvoke(ctx, n, snap)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		update state.Update
		err    error
	}
	done := make(chan result, 1)
	go func() {
		u, err := safeInvoke(tctx, n, snap)
		done <- result{u, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrNodeTimeout, timeout, res.err)
		}
		return res.update, res.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrNodeTimeout, timeout)
	}
}

func safeInvoke(ctx context.Context, n graph.Node, snap graph.Snapshot) (upd state.Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			upd, err = nil, fmt.Errorf("%w: %v", ErrNodePanic, r)
		}
	}()
	return n.Invoke(ctx, snap)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
