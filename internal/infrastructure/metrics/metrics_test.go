package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := Counter("stategraph_supersteps_total")
	IncSupersteps()
	IncSupersteps()
	assert.Equal(t, before+2, Counter("stategraph_supersteps_total"))

	execs := MapCounter("stategraph_node_executions_total", "metrics-test")
	IncNodeExecs("metrics-test")
	assert.Equal(t, execs+1, MapCounter("stategraph_node_executions_total", "metrics-test"))

	active := Counter("stategraph_active_runs")
	RunStarted()
	assert.Equal(t, active+1, Counter("stategraph_active_runs"))
	RunFinished("completed")
	assert.Equal(t, active, Counter("stategraph_active_runs"))

	CheckpointBytes("memory", 42)
	assert.Equal(t, int64(42), MapCounter("stategraph_checkpoint_bytes", "memory"))

	assert.Zero(t, Counter("does_not_exist"))
	assert.Zero(t, MapCounter("does_not_exist", "x"))
}
