package graph

import (
	"fmt"
	"slices"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/state"
	"github.com/flowgraph/stategraph/pkg/validation"
)

// Builder collects node and edge declarations. Mistakes are recorded and
// reported together by Build, so calls can be chained.
type Builder struct {
	name        string
	schema      *state.Schema
	nodes       map[string]*Spec
	order       []string
	edges       map[string][]string
	conditional map[string]*Conditional
	entry       string
	before      []string
	after       []string
	budgets     Budgets
	store       checkpoint.Store
	threadID    string
	issues      []Issue
}

// New starts a graph definition. A nil schema overwrites every field.
func New(name string, schema *state.Schema) *Builder {
	if schema == nil {
		schema = state.NewSchema()
	}
	return &Builder{
		name:        name,
		schema:      schema,
		nodes:       make(map[string]*Spec),
		edges:       make(map[string][]string),
		conditional: make(map[string]*Conditional),
		budgets:     DefaultBudgets(),
	}
}

func (b *Builder) fail(node string, err error) {
	b.issues = append(b.issues, Issue{Err: err, Node: node})
}

// AddNode registers a node under a unique name.
func (b *Builder) AddNode(name string, n Node, opts ...NodeOption) *Builder {
	switch {
	case name == END:
		b.fail(name, ErrReservedName)
		return b
	case !validation.IsNodeName(name):
		b.fail(name, ErrInvalidNodeName)
		return b
	case n == nil:
		b.fail(name, ErrNilNode)
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.fail(name, ErrDuplicateNode)
		return b
	}
	spec := &Spec{Name: name, Node: n}
	for _, opt := range opts {
		opt(&spec.Policy)
	}
	if spec.Policy.Retry != nil {
		if err := validation.Struct(spec.Policy.Retry); err != nil {
			b.fail(name, fmt.Errorf("%w: %v", ErrInvalidPolicy, err))
		}
	}
	if spec.Policy.Timeout < 0 {
		b.fail(name, fmt.Errorf("%w: negative timeout", ErrInvalidPolicy))
	}
	b.nodes[name] = spec
	b.order = append(b.order, name)
	return b
}

// AddNodeFunc registers a function as a node.
func (b *Builder) AddNodeFunc(name string, fn NodeFunc, opts ...NodeOption) *Builder {
	if fn == nil {
		b.fail(name, ErrNilNode)
		return b
	}
	return b.AddNode(name, fn, opts...)
}

// AddEdge adds static edges from one node to each target, in order.
// Repeated targets are ignored.
func (b *Builder) AddEdge(from string, to ...string) *Builder {
	for _, target := range to {
		if !slices.Contains(b.edges[from], target) {
			b.edges[from] = append(b.edges[from], target)
		}
	}
	return b
}

// AddConditionalEdge routes from a node with a function evaluated on the
// merged state. targets declares every name the router may return and is
// used for reachability checks; leave it empty to allow any node.
func (b *Builder) AddConditionalEdge(from string, router Router, targets ...string) *Builder {
	if router == nil {
		b.fail(from, ErrNilRouter)
		return b
	}
	if _, exists := b.conditional[from]; exists {
		b.fail(from, ErrDuplicateRouter)
		return b
	}
	b.conditional[from] = &Conditional{Router: router, Targets: slices.Clone(targets)}
	return b
}

// SetEntry sets the first node to run.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// InterruptBefore pauses a run before any of the named nodes execute.
func (b *Builder) InterruptBefore(names ...string) *Builder {
	b.before = append(b.before, names...)
	return b
}

// InterruptAfter pauses a run after any of the named nodes executed.
func (b *Builder) InterruptAfter(names ...string) *Builder {
	b.after = append(b.after, names...)
	return b
}

// WithBudgets replaces the default budgets.
func (b *Builder) WithBudgets(budgets Budgets) *Builder {
	b.budgets = budgets
	return b
}

// WithCheckpointer binds a store and a default thread id. Binding a store
// enables interrupts, periodic snapshots and resume.
func (b *Builder) WithCheckpointer(store checkpoint.Store, threadID string) *Builder {
	b.store = store
	b.threadID = threadID
	return b
}

// Build validates the definition and returns an immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	issues := slices.Clone(b.issues)
	known := func(name string) bool {
		_, ok := b.nodes[name]
		return ok
	}

	switch {
	case b.entry == "":
		issues = append(issues, Issue{Err: ErrNoEntryPoint})
	case !known(b.entry):
		issues = append(issues, Issue{Err: ErrInvalidEntryPoint, Node: b.entry})
	}

	for _, from := range sortedKeys(b.edges) {
		if !known(from) {
			issues = append(issues, Issue{Err: ErrUnknownNode, Node: from})
		}
		for _, to := range b.edges[from] {
			if to != END && !known(to) {
				issues = append(issues, Issue{Err: fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, from, to), Node: from})
			}
		}
	}
	for _, from := range sortedKeys(b.conditional) {
		if !known(from) {
			issues = append(issues, Issue{Err: ErrUnknownNode, Node: from})
		}
		for _, to := range b.conditional[from].Targets {
			if to != END && !known(to) {
				issues = append(issues, Issue{Err: fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, from, to), Node: from})
			}
		}
	}
	for _, name := range append(slices.Clone(b.before), b.after...) {
		if !known(name) {
			issues = append(issues, Issue{Err: fmt.Errorf("%w: interrupt on %s", ErrUnknownNode, name), Node: name})
		}
	}
	if err := b.budgets.Validate(); err != nil {
		issues = append(issues, Issue{Err: err})
	}
	if known(b.entry) {
		issues = append(issues, b.unreachable()...)
	}

	if len(issues) > 0 {
		return nil, &BuildError{Graph: b.name, Issues: issues}
	}
	return b.compile(), nil
}

// unreachable reports nodes no path from the entry can schedule. A
// reachable conditional edge without declared targets may route
// anywhere, so nothing is reported in that case.
func (b *Builder) unreachable() []Issue {
	seen := map[string]bool{b.entry: true}
	queue := []string{b.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := slices.Clone(b.edges[cur])
		if c, ok := b.conditional[cur]; ok {
			if len(c.Targets) == 0 {
				return nil
			}
			next = append(next, c.Targets...)
		}
		for _, n := range next {
			if n != END && !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	var issues []Issue
	for _, name := range b.order {
		if !seen[name] {
			issues = append(issues, Issue{Err: ErrUnreachableNode, Node: name})
		}
	}
	return issues
}

func (b *Builder) compile() *Graph {
	g := &Graph{
		name:        b.name,
		schema:      b.schema,
		nodes:       make(map[string]*Spec, len(b.nodes)),
		order:       slices.Clone(b.order),
		edges:       make(map[string][]string, len(b.edges)),
		conditional: make(map[string]*Conditional, len(b.conditional)),
		entry:       b.entry,
		before:      toSet(b.before),
		after:       toSet(b.after),
		budgets:     b.budgets,
		store:       b.store,
		threadID:    b.threadID,
	}
	for name, spec := range b.nodes {
		cp := *spec
		g.nodes[name] = &cp
	}
	for from, to := range b.edges {
		g.edges[from] = slices.Clone(to)
	}
	for from, c := range b.conditional {
		g.conditional[from] = &Conditional{Router: c.Router, Targets: slices.Clone(c.Targets)}
	}
	return g
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
