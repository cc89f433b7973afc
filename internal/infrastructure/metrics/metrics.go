package metrics

import (
	"expvar"
)

// Engine metrics.
var (
	superstepsTotal  = new(expvar.Int)
	interruptsTotal  = new(expvar.Int)
	eventsDropped    = new(expvar.Int)
	activeRuns       = new(expvar.Int)
	schedulerWorkers = new(expvar.Int)

	nodeExecs    = expvar.NewMap("stategraph_node_executions_total")
	nodeFailures = expvar.NewMap("stategraph_node_failures_total")
	nodeRetries  = expvar.NewMap("stategraph_node_retries_total")
	runsTotal    = expvar.NewMap("stategraph_runs_total")
)

// Checkpoint store metrics, keyed by store kind.
var (
	checkpointsSaved  = expvar.NewMap("stategraph_checkpoints_saved_total")
	checkpointsFailed = expvar.NewMap("stategraph_checkpoints_failed_total")
	checkpointBytes   = expvar.NewMap("stategraph_checkpoint_bytes")
)

func init() {
	expvar.Publish("stategraph_supersteps_total", superstepsTotal)
	expvar.Publish("stategraph_interrupts_total", interruptsTotal)
	expvar.Publish("stategraph_events_dropped_total", eventsDropped)
	expvar.Publish("stategraph_active_runs", activeRuns)
	expvar.Publish("stategraph_scheduler_workers", schedulerWorkers)
}

// Engine helpers
func IncSupersteps()            { superstepsTotal.Add(1) }
func IncInterrupts()            { interruptsTotal.Add(1) }
func AddEventsDropped(n int64)  { eventsDropped.Add(n) }
func RunStarted()               { activeRuns.Add(1) }
func RunFinished(outcome string) {
	activeRuns.Add(-1)
	runsTotal.Add(outcome, 1)
}
func SetSchedulerWorkers(n int) { schedulerWorkers.Set(int64(n)) }

// Node helpers
func IncNodeExecs(node string)    { nodeExecs.Add(node, 1) }
func IncNodeFailures(node string) { nodeFailures.Add(node, 1) }
func IncNodeRetries(node string)  { nodeRetries.Add(node, 1) }

// Checkpoint helpers
func CheckpointSaved(kind string)  { checkpointsSaved.Add(kind, 1) }
func CheckpointFailed(kind string) { checkpointsFailed.Add(kind, 1) }
func CheckpointBytes(kind string, size int64) { setMapInt(checkpointBytes, kind, size) }

// Counter returns the value of a published expvar.Int, or 0.
func Counter(name string) int64 {
	if v, ok := expvar.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

// MapCounter returns one key of a published expvar.Map, or 0.
func MapCounter(name, key string) int64 {
	m, ok := expvar.Get(name).(*expvar.Map)
	if !ok {
		return 0
	}
	if v, ok := m.Get(key).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

// setMapInt replaces value for a key in an expvar.Map with an *expvar.Int set to v.
func setMapInt(m *expvar.Map, key string, v int64) {
	x := new(expvar.Int)
	x.Set(v)
	m.Set(key, x)
}
