package stategraph

import (
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/pregel"
	"github.com/flowgraph/stategraph/internal/core/state"
)

// State model
type (
	State       = state.State
	Update      = state.Update
	Schema      = state.Schema
	Reducer     = state.Reducer
	ReducerFunc = state.ReducerFunc
	ReducerType = state.ReducerType
)

// Graph definition
type (
	Builder     = graph.Builder
	Graph       = graph.Graph
	Node        = graph.Node
	NodeFunc    = graph.NodeFunc
	NodeOption  = graph.NodeOption
	Snapshot    = graph.Snapshot
	Router      = graph.Router
	Budgets     = graph.Budgets
	RetryPolicy = graph.RetryPolicy
	PathID      = graph.PathID
	BuildError  = graph.BuildError
)

// Execution
type (
	Executable       = pregel.Executable
	Config           = pregel.Config
	RunOption        = pregel.RunOption
	Event            = pregel.Event
	EventType        = pregel.EventType
	EventHandler     = pregel.EventHandler
	EventHandlerFunc = pregel.EventHandlerFunc
	SlogHandler      = pregel.SlogHandler
	MetricsHandler   = pregel.MetricsHandler
	CallbackHandler  = pregel.CallbackHandler
	Stats            = pregel.Stats
	NodeError        = pregel.NodeError
	CycleError       = pregel.CycleError
	BudgetError      = pregel.BudgetError
	StoreError       = pregel.StoreError
	InterruptedError = pregel.InterruptedError
)

// Checkpoints
type (
	Checkpoint = checkpoint.Checkpoint
	Store      = checkpoint.Store
	Filter     = checkpoint.Filter
)

// END terminates a lineage when used as an edge target.
const END = graph.END

// Event types emitted on a run's stream.
const (
	EventSuperstepStarted = pregel.EventSuperstepStarted
	EventNodeEntered      = pregel.EventNodeEntered
	EventNodeCompleted    = pregel.EventNodeCompleted
	EventNodeRetried      = pregel.EventNodeRetried
	EventNodeFailed       = pregel.EventNodeFailed
	EventCheckpointSaved  = pregel.EventCheckpointSaved
	EventCheckpointFailed = pregel.EventCheckpointFailed
	EventInterrupted      = pregel.EventInterrupted
	EventCompleted        = pregel.EventCompleted
	EventFailed           = pregel.EventFailed
)

// Constructors and options.
var (
	New             = graph.New
	NewSchema       = state.NewSchema
	WithField       = state.WithField
	WithDefault     = state.WithDefault
	SchemaFromTypes = state.SchemaFromTypes
	DefaultBudgets  = graph.DefaultBudgets

	WithTimeout  = graph.WithTimeout
	WithRetry    = graph.WithRetry
	WithFallback = graph.WithFallback
	Tolerant     = graph.Tolerant

	Compile             = pregel.Compile
	WithThreadID        = pregel.WithThreadID
	WithBudgets         = pregel.WithBudgets
	WithInterruptBefore = pregel.WithInterruptBefore
	WithInterruptAfter  = pregel.WithInterruptAfter
	WithEventHandlers   = pregel.WithEventHandlers
	WithCheckpointEvery = pregel.WithCheckpointEvery
	WithTags            = pregel.WithTags
	IsInterrupted       = pregel.IsInterrupted
	NewMetricsHandler   = pregel.NewMetricsHandler
	NewCallbackHandler  = pregel.NewCallbackHandler
)

// Built-in reducers.
var (
	Append    Reducer = state.AppendReducer{}
	Overwrite Reducer = state.OverwriteReducer{}
	Union     Reducer = state.UnionReducer{}
	Merge     Reducer = state.MergeReducer{}
	Add       Reducer = state.AddReducer{}
	Max       Reducer = state.MaxReducer{}
	Min       Reducer = state.MinReducer{}
)

// Errors callers match with errors.Is.
var (
	ErrNodeFailed     = pregel.ErrNodeFailed
	ErrNodeTimeout    = pregel.ErrNodeTimeout
	ErrNodePanic      = pregel.ErrNodePanic
	ErrCycleDetected  = pregel.ErrCycleDetected
	ErrBudgetExceeded = pregel.ErrBudgetExceeded
	ErrInterrupted    = pregel.ErrInterrupted
	ErrCanceled       = pregel.ErrCanceled
	ErrThreadBusy     = pregel.ErrThreadBusy
	ErrNoCheckpoint   = pregel.ErrNoCheckpoint
	ErrGraphMismatch  = pregel.ErrGraphMismatch
	ErrStore          = pregel.ErrStore
	ErrUnknownTarget  = graph.ErrUnknownTarget
	ErrRouterPanic    = graph.ErrRouterPanic
)
