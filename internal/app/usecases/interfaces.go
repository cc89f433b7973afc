package usecases

import (
	"context"

	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/pregel"
)

// GraphRepository resolves compiled graphs by name.
type GraphRepository interface {
	Get(name string) (*pregel.Executable, error)
	Names() []string
}

// GraphRunner is the use case surface shared by the CLI and the server.
type GraphRunner interface {
	// Run starts a run, or continues a thread when req.Continue is set.
	Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResponse, error)

	// Resume continues a paused thread from its last checkpoint.
	Resume(ctx context.Context, req *dto.ThreadRequest) (*dto.RunResponse, error)

	// State returns the latest checkpoint of a thread.
	State(ctx context.Context, req *dto.ThreadRequest) (*dto.CheckpointView, error)

	// History lists a thread's checkpoints oldest first.
	History(ctx context.Context, req *dto.ThreadRequest, filter checkpoint.Filter) ([]dto.CheckpointView, error)

	// Update edits a thread's state through the schema reducers.
	Update(ctx context.Context, req *dto.UpdateRequest) (*dto.CheckpointView, error)

	// Delete drops a thread's checkpoints.
	Delete(ctx context.Context, req *dto.ThreadRequest) error
}
