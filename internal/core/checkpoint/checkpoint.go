// Package checkpoint defines the persisted snapshot of a paused or
// progressing graph run and the store capability that persists it.
package checkpoint

import (
	"slices"
	"time"

	"github.com/flowgraph/stategraph/internal/core/state"
)

// FormatVersion is written into every checkpoint.
const FormatVersion = "v1"

// Source records why a checkpoint was written.
type Source string

const (
	// SourceInput is written before the first superstep of a fresh run
	SourceInput Source = "input"
	// SourceLoop is the periodic snapshot after a superstep
	SourceLoop Source = "loop"
	// SourceInterrupt is written at an interrupt boundary
	SourceInterrupt Source = "interrupt"
	// SourceUpdate is written by an external state edit
	SourceUpdate Source = "update"
	// SourceCancel is written when the caller cancels a run
	SourceCancel Source = "cancel"
	// SourceDone is written when a run completes
	SourceDone Source = "done"
)

// InterruptKind says which boundary paused a run.
type InterruptKind string

const (
	// InterruptBefore pauses before the listed nodes run
	InterruptBefore InterruptKind = "before"
	// InterruptAfter pauses after the listed nodes ran
	InterruptAfter InterruptKind = "after"
)

// Task is one frontier entry: a node to run on a causal path.
type Task struct {
	Node string `json:"node"`
	Path string `json:"path"`
}

// Visit is the number of times Node was scheduled on Path.
type Visit struct {
	Node  string `json:"node"`
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// Interrupt describes the boundary a checkpoint was paused at.
type Interrupt struct {
	Kind  InterruptKind `json:"kind"`
	Nodes []string      `json:"nodes"`
}

// Checkpoint is an immutable snapshot of a thread between supersteps.
// Later checkpoints of the same thread supersede earlier ones.
type Checkpoint struct {
	ID       string      `json:"id"`
	GraphID  string      `json:"graph_id"`
	ThreadID string      `json:"thread_id"`
	Seq      int64       `json:"seq"`
	Step     uint64      `json:"step"`
	State    state.State `json:"state"`
	Frontier []Task      `json:"frontier"`
	Visits   []Visit     `json:"visits,omitempty"`
	// Lineage maps each path id to the path it forked from.
	Lineage   map[string]string `json:"lineage,omitempty"`
	Pending   *Interrupt        `json:"pending,omitempty"`
	Metadata  Metadata          `json:"metadata"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
}

// Metadata contains additional information about a checkpoint
type Metadata struct {
	Source Source `json:"source"`
	// Node is the writer of a SourceUpdate checkpoint, or the node that
	// triggered an interrupt.
	Node string   `json:"node,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// Validate ensures checkpoint integrity
func (c *Checkpoint) Validate() error {
	if c.ID == "" {
		return ErrInvalidCheckpointID
	}
	if c.GraphID == "" {
		return ErrInvalidGraphID
	}
	if c.ThreadID == "" {
		return ErrInvalidThreadID
	}
	if c.State == nil {
		return ErrNilState
	}
	return nil
}

// Done reports whether the run had finished when this checkpoint was taken.
func (c *Checkpoint) Done() bool {
	return len(c.Frontier) == 0
}

// Clone returns a deep copy so stores can hand out checkpoints without
// letting callers mutate what they persisted.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	out.Frontier = slices.Clone(c.Frontier)
	out.Visits = slices.Clone(c.Visits)
	if c.Lineage != nil {
		out.Lineage = make(map[string]string, len(c.Lineage))
		for k, v := range c.Lineage {
			out.Lineage[k] = v
		}
	}
	if c.Pending != nil {
		p := *c.Pending
		p.Nodes = slices.Clone(c.Pending.Nodes)
		out.Pending = &p
	}
	out.Metadata.Tags = slices.Clone(c.Metadata.Tags)
	return &out
}
