// Package pregel runs state graphs in bulk-synchronous supersteps: all
// ready nodes run concurrently against one immutable snapshot, their
// updates are merged in frontier order, and routing decides the next
// frontier. Runs can pause at interrupt points and resume from a
// checkpoint store.
package pregel

import (
	"log/slog"
	"math"
	"runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	imetrics "github.com/flowgraph/stategraph/internal/infrastructure/metrics"
)

const tracerName = "github.com/flowgraph/stategraph/internal/core/pregel"

// Config holds engine configuration
type Config struct {
	// Parallelism caps concurrently running node tasks per superstep.
	Parallelism int
	// ParallelismFactor scales CPU count when Parallelism is not set.
	// Example: 1.5 => 1.5x NumCPU workers. Ignored if Parallelism > 0.
	ParallelismFactor float64
	// EventBuffer bounds undelivered events per run. Defaults to 1024.
	EventBuffer int
	// CheckpointEvery is the periodic snapshot cadence in supersteps when
	// a store is bound. Zero means every superstep; negative disables.
	CheckpointEvery int
	// Store is used when the graph has no checkpointer of its own.
	Store checkpoint.Store
	// StoreKind labels store metrics. Defaults to "custom".
	StoreKind string
	Handlers  []EventHandler
	// Logger defaults to the logger carried by the run's context.
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Executable is a compiled graph ready to run. It is safe for concurrent
// use by multiple runs on different threads, and it is itself a
// graph.Node so it can be nested inside another graph.
type Executable struct {
	graph       *graph.Graph
	config      Config
	parallelism int
	store       checkpoint.Store
	threadID    string
	tracer      trace.Tracer
}

// New prepares a built graph for execution.
func New(g *graph.Graph, cfg Config) *Executable {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		if cfg.ParallelismFactor > 0 {
			parallelism = int(math.Ceil(cfg.ParallelismFactor * float64(runtime.NumCPU())))
		} else {
			parallelism = runtime.NumCPU()
		}
		if parallelism < 1 {
			parallelism = 1
		}
	}
	imetrics.SetSchedulerWorkers(parallelism)

	store, threadID := g.Checkpointer()
	if store == nil {
		store = cfg.Store
	}
	if cfg.StoreKind == "" {
		cfg.StoreKind = "custom"
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Executable{
		graph:       g,
		config:      cfg,
		parallelism: parallelism,
		store:       store,
		threadID:    threadID,
		tracer:      tp.Tracer(tracerName),
	}
}

// Compile builds the graph and prepares it for execution.
func Compile(b *graph.Builder, cfg Config) (*Executable, error) {
	g, err := b.Build()
	if err != nil {
		return nil, err
	}
	return New(g, cfg), nil
}

// Graph returns the compiled graph definition.
func (e *Executable) Graph() *graph.Graph { return e.graph }

// Parallelism returns the effective task concurrency limit.
func (e *Executable) Parallelism() int { return e.parallelism }

// Store returns the checkpoint store runs use, if any.
func (e *Executable) Store() checkpoint.Store { return e.store }
