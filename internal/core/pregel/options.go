package pregel

import (
	"github.com/flowgraph/stategraph/internal/core/graph"
)

type runOptions struct {
	threadID        string
	budgets         graph.Budgets
	before          []string
	after           []string
	handlers        []EventHandler
	checkpointEvery *int
	tags            []string
}

// RunOption tunes one invocation.
type RunOption func(*runOptions)

// WithThreadID runs under the given thread instead of the graph default.
func WithThreadID(id string) RunOption {
	return func(o *runOptions) { o.threadID = id }
}

// WithBudgets overrides the non-zero budget fields for this run.
func WithBudgets(b graph.Budgets) RunOption {
	return func(o *runOptions) { o.budgets = b }
}

// WithInterruptBefore adds interrupt-before nodes for this run.
func WithInterruptBefore(names ...string) RunOption {
	return func(o *runOptions) { o.before = append(o.before, names...) }
}

// WithInterruptAfter adds interrupt-after nodes for this run.
func WithInterruptAfter(names ...string) RunOption {
	return func(o *runOptions) { o.after = append(o.after, names...) }
}

// WithEventHandlers adds event handlers for this run.
func WithEventHandlers(handlers ...EventHandler) RunOption {
	return func(o *runOptions) { o.handlers = append(o.handlers, handlers...) }
}

// WithCheckpointEvery sets the periodic snapshot cadence in supersteps.
// A value below 1 disables periodic snapshots; interrupt snapshots are
// always written.
func WithCheckpointEvery(n int) RunOption {
	return func(o *runOptions) { o.checkpointEvery = &n }
}

// WithTags labels every checkpoint written by this run.
func WithTags(tags ...string) RunOption {
	return func(o *runOptions) { o.tags = append(o.tags, tags...) }
}
