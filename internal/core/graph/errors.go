package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - defined once, used everywhere
var (
	// Build errors
	ErrNoEntryPoint      = errors.New("no entry point specified")
	ErrInvalidEntryPoint = errors.New("entry point node not found")
	ErrInvalidNodeName   = errors.New("invalid node name")
	ErrReservedName      = errors.New("node name is reserved")
	ErrNilNode           = errors.New("node cannot be nil")
	ErrDuplicateNode     = errors.New("duplicate node name")
	ErrUnknownNode       = errors.New("node not found")
	ErrDanglingEdge      = errors.New("edge target not found")
	ErrNilRouter         = errors.New("router cannot be nil")
	ErrDuplicateRouter   = errors.New("node already has a conditional edge")
	ErrUnreachableNode   = errors.New("node is unreachable from the entry point")
	ErrInvalidBudgets    = errors.New("invalid execution budgets")
	ErrInvalidPolicy     = errors.New("invalid node policy")

	// Run-time routing errors
	ErrUnknownTarget = errors.New("router returned an undeclared target")
	ErrRouterPanic   = errors.New("router panicked")
)

// Issue is one problem found while building a graph.
type Issue struct {
	Err  error
	Node string
}

func (i Issue) Error() string {
	if i.Node == "" {
		return i.Err.Error()
	}
	return fmt.Sprintf("%s: %v", i.Node, i.Err)
}

func (i Issue) Unwrap() error { return i.Err }

// BuildError aggregates every issue found by Build. errors.Is matches
// any of the underlying sentinels.
type BuildError struct {
	Graph  string
	Issues []Issue
}

func (e *BuildError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Error())
	}
	return fmt.Sprintf("graph %q: build failed: %s", e.Graph, strings.Join(msgs, "; "))
}

func (e *BuildError) Unwrap() []error {
	out := make([]error, 0, len(e.Issues))
	for _, issue := range e.Issues {
		out = append(out, issue)
	}
	return out
}
