// Package graphrepo keeps compiled graphs addressable by name so the CLI
// and server can run them on request.
package graphrepo

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/flowgraph/stategraph/internal/core/pregel"
)

var (
	ErrGraphNotFound  = errors.New("graph not found")
	ErrDuplicateGraph = errors.New("graph already registered")
)

// Registry is a concurrency-safe name to executable map.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]*pregel.Executable
}

func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*pregel.Executable)}
}

// Register adds exec under its graph name.
func (r *Registry) Register(exec *pregel.Executable) error {
	name := exec.Graph().Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graphs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGraph, name)
	}
	r.graphs[name] = exec
	return nil
}

// Get returns the executable registered under name.
func (r *Registry) Get(name string) (*pregel.Executable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	return exec, nil
}

// Names lists registered graphs in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.graphs))
	for name := range r.graphs {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
