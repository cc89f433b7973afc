package pregel

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/state"
)

// task is one frontier entry.
type task struct {
	node string
	path graph.PathID
}

func toCheckpointTasks(frontier []task) []checkpoint.Task {
	out := make([]checkpoint.Task, len(frontier))
	for i, t := range frontier {
		out[i] = checkpoint.Task{Node: t.node, Path: string(t.path)}
	}
	return out
}

func fromCheckpointTasks(tasks []checkpoint.Task) []task {
	out := make([]task, len(tasks))
	for i, t := range tasks {
		out[i] = task{node: t.Node, path: graph.PathID(t.Path)}
	}
	return out
}

func frontierNodes(frontier []task) []string {
	out := make([]string, len(frontier))
	for i, t := range frontier {
		out[i] = t.node
	}
	return out
}

// executeSuperstep runs every frontier entry concurrently against the
// same immutable base state. Results are indexed by frontier position so
// completion order never leaks into the merge. If any entry fails, the
// error of the earliest failing entry is returned and all results are
// discarded.
func (r *run) executeSuperstep(ctx context.Context) ([]outcome, error) {
	base := r.state
	outcomes := make([]outcome, len(r.frontier))
	errs := make([]error, len(r.frontier))

	ctx, span := r.exec.tracer.Start(ctx, "stategraph.superstep", trace.WithAttributes(
		attribute.Int64("stategraph.step", int64(r.step)),
		attribute.Int("stategraph.tasks", len(r.frontier)),
	))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.exec.parallelism)
	for i, t := range r.frontier {
		g.Go(func() error {
			out, err := r.runTask(gctx, t, base)
			if err != nil {
				errs[i] = err
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	waitErr := g.Wait()
	if waitErr == nil {
		return outcomes, nil
	}
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	return nil, waitErr
}

// nextFrontier routes every entry that ran against the merged state.
// A branch with several live successors forks a child path per
// successor; a single successor continues on the same path. Entries
// naming the same node are joined into one task at the position of the
// first, on the closest common ancestor of their paths.
func (r *run) nextFrontier(merged state.State, outcomes []outcome) ([]task, error) {
	var next []task
	for i, t := range r.frontier {
		if outcomes[i].skipped {
			continue
		}
		succ, err := r.graph.Successors(t.node, merged)
		if err != nil {
			return nil, &RoutingError{Node: t.node, Step: r.step, Err: err}
		}
		live := slices.DeleteFunc(succ, func(n string) bool { return n == graph.END })
		if len(live) == 1 {
			next = append(next, task{node: live[0], path: t.path})
			continue
		}
		for _, target := range live {
			next = append(next, task{node: target, path: r.tracker.Fork(t.path, target)})
		}
	}
	return r.join(next), nil
}

func (r *run) join(entries []task) []task {
	index := make(map[string]int, len(entries))
	var (
		out   []task
		paths [][]graph.PathID
	)
	for _, e := range entries {
		if i, ok := index[e.node]; ok {
			if !slices.Contains(paths[i], e.path) {
				paths[i] = append(paths[i], e.path)
			}
			continue
		}
		index[e.node] = len(out)
		out = append(out, e)
		paths = append(paths, []graph.PathID{e.path})
	}
	for i := range out {
		if len(paths[i]) > 1 {
			out[i].path = r.tracker.Join(paths[i])
		}
	}
	return out
}
