package pregel

import (
	"errors"
	"fmt"
	"time"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
)

// Engine errors
var (
	ErrNodeFailed       = errors.New("node failed")
	ErrNodeTimeout      = errors.New("node timed out")
	ErrNodePanic        = errors.New("node panicked")
	ErrCycleDetected    = errors.New("cycle detected")
	ErrBudgetExceeded   = errors.New("budget exceeded")
	ErrStore            = errors.New("checkpoint store error")
	ErrInterrupted      = errors.New("interrupted")
	ErrCanceled         = errors.New("run canceled")
	ErrThreadBusy       = errors.New("thread is already running")
	ErrNoCheckpointer   = errors.New("no checkpoint store configured")
	ErrNoCheckpoint     = errors.New("no checkpoint for thread")
	ErrGraphMismatch    = errors.New("checkpoint belongs to another graph")
	ErrHistoryNotListed = errors.New("checkpoint store does not keep history")
)

// NodeError reports a node that failed every attempt. The superstep it
// ran in was discarded.
type NodeError struct {
	Node     string
	Path     graph.PathID
	Step     uint64
	Attempts int
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (path %s) failed at step %d after %d attempt(s): %v",
		e.Node, e.Path, e.Step, e.Attempts, e.Err)
}

func (e *NodeError) Unwrap() []error { return []error{ErrNodeFailed, e.Err} }

// CycleError reports a node scheduled more often than allowed on one path.
type CycleError struct {
	Node   string
	Path   graph.PathID
	Visits int
	Max    int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: node %q scheduled %d times on path %s (max %d)",
		e.Node, e.Visits, e.Path, e.Max)
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// BudgetError reports an exhausted invocation budget.
type BudgetError struct {
	Budget  string
	Limit   string
	Step    uint64
	Elapsed time.Duration
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exceeded: %s limit %s reached at step %d after %s",
		e.Budget, e.Limit, e.Step, e.Elapsed.Round(time.Millisecond))
}

func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

// RoutingError reports a router that named a node it may not reach.
type RoutingError struct {
	Node string
	Step uint64
	Err  error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing from %q at step %d: %v", e.Node, e.Step, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// StoreError wraps a checkpoint store failure.
type StoreError struct {
	Op       string
	ThreadID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("checkpoint %s for thread %q: %v", e.Op, e.ThreadID, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// InterruptedError is the control signal returned when a run pauses at
// an interrupt boundary. The state returned alongside it is the state
// persisted in the checkpoint; Resume continues the thread.
type InterruptedError struct {
	ThreadID string
	Kind     checkpoint.InterruptKind
	Nodes    []string
	Step     uint64
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("thread %q interrupted %s %v at step %d", e.ThreadID, e.Kind, e.Nodes, e.Step)
}

func (e *InterruptedError) Unwrap() error { return ErrInterrupted }

// IsInterrupted reports whether err is an interrupt signal and returns it.
func IsInterrupted(err error) (*InterruptedError, bool) {
	var ie *InterruptedError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
