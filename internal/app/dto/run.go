package dto

import (
	"fmt"
	"time"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/pkg/validation"
)

// RunRequest starts or continues a run of a registered graph.
type RunRequest struct {
	Graph    string         `json:"graph" validate:"required,node_name"`
	ThreadID string         `json:"thread_id,omitempty" validate:"omitempty,thread_id"`
	Input    map[string]any `json:"input,omitempty"`
	// Continue runs the thread with RunThread semantics instead of
	// starting over.
	Continue        bool           `json:"continue,omitempty"`
	Budgets         *graph.Budgets `json:"budgets,omitempty"`
	InterruptBefore []string       `json:"interrupt_before,omitempty" validate:"dive,node_name"`
	InterruptAfter  []string       `json:"interrupt_after,omitempty" validate:"dive,node_name"`
	Tags            []string       `json:"tags,omitempty"`
}

// Validate checks the request shape.
func (r *RunRequest) Validate() error {
	if r.Graph == "" {
		return ErrMissingGraph
	}
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// ThreadRequest addresses one thread of a registered graph.
type ThreadRequest struct {
	Graph    string `json:"graph" validate:"required,node_name"`
	ThreadID string `json:"thread_id" validate:"required,thread_id"`
}

// Validate checks the request shape.
func (r *ThreadRequest) Validate() error {
	switch {
	case r.Graph == "":
		return ErrMissingGraph
	case r.ThreadID == "":
		return ErrMissingThreadID
	}
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// UpdateRequest edits a thread's state.
type UpdateRequest struct {
	ThreadRequest
	Update map[string]any `json:"update" validate:"required"`
	AsNode string         `json:"as_node,omitempty" validate:"omitempty,node_name"`
}

// Validate checks the request shape.
func (r *UpdateRequest) Validate() error {
	if err := r.ThreadRequest.Validate(); err != nil {
		return err
	}
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// RunStatus is the outcome of a run.
type RunStatus string

const (
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCanceled    RunStatus = "canceled"
)

// InterruptInfo describes where a paused run stopped.
type InterruptInfo struct {
	Kind  checkpoint.InterruptKind `json:"kind"`
	Nodes []string                 `json:"nodes"`
	Step  uint64                   `json:"step"`
}

// RunResponse reports the outcome of a run or resume.
type RunResponse struct {
	Graph     string         `json:"graph"`
	ThreadID  string         `json:"thread_id"`
	Status    RunStatus      `json:"status"`
	State     map[string]any `json:"state,omitempty"`
	Interrupt *InterruptInfo `json:"interrupt,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	Duration  time.Duration  `json:"duration"`
}

// CheckpointView is the externally visible form of a checkpoint.
type CheckpointView struct {
	ID        string                `json:"id"`
	ThreadID  string                `json:"thread_id"`
	Seq       int64                 `json:"seq"`
	Step      uint64                `json:"step"`
	Source    checkpoint.Source     `json:"source"`
	Node      string                `json:"node,omitempty"`
	Tags      []string              `json:"tags,omitempty"`
	Next      []string              `json:"next"`
	Pending   *checkpoint.Interrupt `json:"pending,omitempty"`
	State     map[string]any        `json:"state"`
	Timestamp time.Time             `json:"timestamp"`
}

// NewCheckpointView flattens cp.
func NewCheckpointView(cp *checkpoint.Checkpoint) CheckpointView {
	next := make([]string, 0, len(cp.Frontier))
	for _, t := range cp.Frontier {
		next = append(next, t.Node)
	}
	return CheckpointView{
		ID:        cp.ID,
		ThreadID:  cp.ThreadID,
		Seq:       cp.Seq,
		Step:      cp.Step,
		Source:    cp.Metadata.Source,
		Node:      cp.Metadata.Node,
		Tags:      cp.Metadata.Tags,
		Next:      next,
		Pending:   cp.Pending,
		State:     cp.State,
		Timestamp: cp.Timestamp,
	}
}
