package prebuilt

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/flowgraph/stategraph/pkg/stategraph"
)

var (
	ErrUnknownTemplate = errors.New("unknown prebuilt template")
	ErrInvalidConfig   = errors.New("invalid prebuilt configuration")
)

// Template builds a graph declaration under the given graph name.
type Template func(name string) (*stategraph.Builder, error)

// Registry holds named templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register adds or replaces a template.
func (r *Registry) Register(kind string, t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[kind] = t
}

// MustRegister panics on duplicate names; useful during init() setup.
func (r *Registry) MustRegister(kind string, t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[kind]; exists {
		panic(fmt.Sprintf("prebuilt already registered: %s", kind))
	}
	r.templates[kind] = t
}

// Build instantiates the template kind as graph name.
func (r *Registry) Build(kind, name string) (*stategraph.Builder, error) {
	r.mu.RLock()
	t, ok := r.templates[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, kind)
	}
	return t(name)
}

// Kinds lists registered template names in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.templates))
	for k := range r.templates {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// DefaultRegistry carries the demo configuration of every template in
// this package. The CLI and server register graphs from it.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.MustRegister("diamond", func(name string) (*stategraph.Builder, error) {
		return Diamond(DiamondConfig{Name: name})
	})
	DefaultRegistry.MustRegister("review", func(name string) (*stategraph.Builder, error) {
		return ReviewPipeline(ReviewConfig{Name: name})
	})
	DefaultRegistry.MustRegister("refine", func(name string) (*stategraph.Builder, error) {
		return RefinementLoop(RefineConfig{Name: name})
	})
	DefaultRegistry.MustRegister("tools", func(name string) (*stategraph.Builder, error) {
		return ToolLoop(ToolLoopConfig{Name: name, Tools: DemoTools()})
	})
}
