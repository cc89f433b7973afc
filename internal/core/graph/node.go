package graph

import (
	"context"
	"errors"
	"time"

	"github.com/flowgraph/stategraph/internal/core/state"
)

// END is the terminal sentinel. Routing to END ends a lineage.
const END = "__end__"

// PathID identifies one causal lineage through the graph.
type PathID string

// Snapshot is what a node sees: a private copy of the state plus the
// scheduling metadata of the task.
type Snapshot struct {
	State    state.State
	Step     uint64
	ThreadID string
	Node     string
	Path     PathID
	// Attempt is 1 on the first try and grows with each retry.
	Attempt int
}

// Node is the single capability the scheduler depends on. Plain
// transforms, tool dispatchers and compiled subgraphs all implement it.
type Node interface {
	Invoke(ctx context.Context, snap Snapshot) (state.Update, error)
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, snap Snapshot) (state.Update, error)

// Invoke calls f(ctx, snap).
func (f NodeFunc) Invoke(ctx context.Context, snap Snapshot) (state.Update, error) {
	return f(ctx, snap)
}

// RetryPolicy re-runs a failed node against the same pre-superstep state.
type RetryPolicy struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts    int           `validate:"gte=1"`
	InitialBackoff time.Duration `validate:"gte=0"`
	MaxBackoff     time.Duration `validate:"gte=0"`
	// RetryIf selects retryable errors. Nil retries everything except
	// context cancellation.
	RetryIf func(error) bool `validate:"-"`
}

// Backoff returns the delay before the given retry (1-based), doubling
// from InitialBackoff and capped by MaxBackoff when set.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if p.InitialBackoff <= 0 || retry < 1 {
		return 0
	}
	shift := min(retry-1, 30)
	d := p.InitialBackoff * time.Duration(1<<shift)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Retryable reports whether err should be retried under this policy.
func (p RetryPolicy) Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return true
}

// Policy controls how the scheduler runs one node.
type Policy struct {
	// Timeout overrides Budgets.NodeTimeout when positive.
	Timeout time.Duration
	Retry   *RetryPolicy
	// Fallback runs once the node has failed every attempt.
	Fallback Node
	// Tolerant nodes that still fail contribute nothing and end their
	// lineage instead of failing the superstep.
	Tolerant bool
}

// NodeOption configures a node's Policy.
type NodeOption func(*Policy)

// WithTimeout bounds each attempt of the node.
func WithTimeout(d time.Duration) NodeOption {
	return func(p *Policy) { p.Timeout = d }
}

// WithRetry retries the node under the given policy.
func WithRetry(r RetryPolicy) NodeOption {
	return func(p *Policy) { p.Retry = &r }
}

// WithFallback runs fb when the node keeps failing.
func WithFallback(fb Node) NodeOption {
	return func(p *Policy) { p.Fallback = fb }
}

// Tolerant marks node failures as non-fatal.
func Tolerant() NodeOption {
	return func(p *Policy) { p.Tolerant = true }
}

// Spec is a registered node with its policy.
type Spec struct {
	Name   string
	Node   Node
	Policy Policy
}
