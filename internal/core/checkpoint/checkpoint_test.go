package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/core/state"
)

func sample() *Checkpoint {
	return &Checkpoint{
		ID:       "cp-1",
		GraphID:  "g",
		ThreadID: "t",
		Step:     2,
		State:    state.State{"log": []any{"a"}},
		Frontier: []Task{{Node: "review", Path: "p"}},
		Visits:   []Visit{{Node: "prepare", Path: "p", Count: 1}},
		Lineage:  map[string]string{"p2": "p"},
		Pending:  &Interrupt{Kind: InterruptBefore, Nodes: []string{"review"}},
		Metadata: Metadata{Source: SourceInterrupt, Tags: []string{"x"}},
	}
}

func TestCheckpointValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Checkpoint)
		wantErr error
	}{
		{"valid", func(*Checkpoint) {}, nil},
		{"missing id", func(c *Checkpoint) { c.ID = "" }, ErrInvalidCheckpointID},
		{"missing graph", func(c *Checkpoint) { c.GraphID = "" }, ErrInvalidGraphID},
		{"missing thread", func(c *Checkpoint) { c.ThreadID = "" }, ErrInvalidThreadID},
		{"nil state", func(c *Checkpoint) { c.State = nil }, ErrNilState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := sample()
			tt.mutate(cp)
			err := cp.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCheckpointCloneIsIndependent(t *testing.T) {
	cp := sample()
	c := cp.Clone()
	require.Equal(t, cp, c)

	c.State["log"] = []any{"changed"}
	c.Frontier[0].Node = "changed"
	c.Visits[0].Count = 9
	c.Lineage["p2"] = "changed"
	c.Pending.Nodes[0] = "changed"
	c.Metadata.Tags[0] = "changed"

	assert.Equal(t, []any{"a"}, cp.State["log"])
	assert.Equal(t, "review", cp.Frontier[0].Node)
	assert.Equal(t, 1, cp.Visits[0].Count)
	assert.Equal(t, "p", cp.Lineage["p2"])
	assert.Equal(t, "review", cp.Pending.Nodes[0])
	assert.Equal(t, "x", cp.Metadata.Tags[0])
	assert.False(t, cp.Done())
}

func TestFilter(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var cps []*Checkpoint
	for i := 0; i < 5; i++ {
		cps = append(cps, &Checkpoint{
			Seq:       int64(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Metadata:  Metadata{Source: SourceLoop},
		})
	}
	cps[4].Metadata = Metadata{Source: SourceInterrupt, Tags: []string{"review"}}

	since := base.Add(time.Minute)
	before := base.Add(4 * time.Minute)

	tests := []struct {
		name   string
		filter Filter
		seqs   []int64
	}{
		{"all", Filter{}, []int64{1, 2, 3, 4, 5}},
		{"limit offset", Filter{Offset: 1, Limit: 2}, []int64{2, 3}},
		{"window", Filter{Since: &since, Before: &before}, []int64{2, 3, 4}},
		{"source", Filter{Source: SourceInterrupt}, []int64{5}},
		{"tags", Filter{Tags: []string{"review"}}, []int64{5}},
		{"offset past end", Filter{Offset: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.filter.Validate())
			var got []int64
			for _, cp := range tt.filter.Apply(cps) {
				got = append(got, cp.Seq)
			}
			assert.Equal(t, tt.seqs, got)
		})
	}
}

func TestFilterValidate(t *testing.T) {
	later := time.Now()
	earlier := later.Add(-time.Hour)

	assert.ErrorIs(t, (&Filter{Limit: -1}).Validate(), ErrInvalidLimit)
	assert.ErrorIs(t, (&Filter{Offset: -1}).Validate(), ErrInvalidOffset)
	assert.ErrorIs(t, (&Filter{Since: &later, Before: &earlier}).Validate(), ErrInvalidTimeRange)
}
