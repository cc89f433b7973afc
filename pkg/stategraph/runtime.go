package stategraph

import (
	"context"

	graphrepo "github.com/flowgraph/stategraph/internal/adapters/repository/graph"
	"github.com/flowgraph/stategraph/internal/adapters/repository/memory"
	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/app/usecases"
)

// Request and response types of the Runtime.
type (
	RunRequest     = dto.RunRequest
	RunResponse    = dto.RunResponse
	RunStatus      = dto.RunStatus
	ThreadRequest  = dto.ThreadRequest
	UpdateRequest  = dto.UpdateRequest
	CheckpointView = dto.CheckpointView
)

// Run statuses.
const (
	RunStatusCompleted   = dto.RunStatusCompleted
	RunStatusInterrupted = dto.RunStatusInterrupted
	RunStatusFailed      = dto.RunStatusFailed
	RunStatusCanceled    = dto.RunStatusCanceled
)

// Runtime keeps compiled graphs by name and runs them on a shared
// checkpoint store. The zero configuration uses an in-memory store and is
// suitable for local use and tests.
type Runtime struct {
	config   Config
	registry *graphrepo.Registry
	runner   *usecases.Runner
}

// NewRuntime creates a runtime. A nil cfg.Store gets an in-memory store.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Store == nil {
		cfg.Store = memory.New(memory.Config{})
		cfg.StoreKind = "memory"
	}
	registry := graphrepo.NewRegistry()
	return &Runtime{config: cfg, registry: registry, runner: usecases.NewRunner(registry)}
}

// Register compiles b with the runtime configuration and makes it
// addressable by its graph name.
func (rt *Runtime) Register(b *Builder) (*Executable, error) {
	exec, err := Compile(b, rt.config)
	if err != nil {
		return nil, err
	}
	if err := rt.registry.Register(exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Graphs lists registered graph names.
func (rt *Runtime) Graphs() []string { return rt.registry.Names() }

// Store returns the runtime's checkpoint store.
func (rt *Runtime) Store() Store { return rt.config.Store }

// Run executes a registered graph.
func (rt *Runtime) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	return rt.runner.Run(ctx, req)
}

// Resume continues a paused thread.
func (rt *Runtime) Resume(ctx context.Context, graphName, threadID string) (*RunResponse, error) {
	return rt.runner.Resume(ctx, &ThreadRequest{Graph: graphName, ThreadID: threadID})
}

// State returns the latest checkpoint of a thread.
func (rt *Runtime) State(ctx context.Context, graphName, threadID string) (*CheckpointView, error) {
	return rt.runner.State(ctx, &ThreadRequest{Graph: graphName, ThreadID: threadID})
}

// UpdateState edits a thread's state as if written by asNode.
func (rt *Runtime) UpdateState(ctx context.Context, graphName, threadID string, update map[string]any, asNode string) (*CheckpointView, error) {
	return rt.runner.Update(ctx, &UpdateRequest{
		ThreadRequest: ThreadRequest{Graph: graphName, ThreadID: threadID},
		Update:        update,
		AsNode:        asNode,
	})
}

// History lists a thread's checkpoints oldest first.
func (rt *Runtime) History(ctx context.Context, graphName, threadID string, filter Filter) ([]CheckpointView, error) {
	return rt.runner.History(ctx, &ThreadRequest{Graph: graphName, ThreadID: threadID}, filter)
}

// Delete removes every checkpoint of a thread.
func (rt *Runtime) Delete(ctx context.Context, graphName, threadID string) error {
	return rt.runner.Delete(ctx, &ThreadRequest{Graph: graphName, ThreadID: threadID})
}
