package pregel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/state"
)

// memStore is a minimal history-keeping store with failure injection.
type memStore struct {
	mu       sync.Mutex
	threads  map[string][]*checkpoint.Checkpoint
	failSave func(cp *checkpoint.Checkpoint) error
}

func newMemStore() *memStore {
	return &memStore{threads: make(map[string][]*checkpoint.Checkpoint)}
}

func (s *memStore) Save(_ context.Context, threadID string, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		if err := s.failSave(cp); err != nil {
			return err
		}
	}
	cp.Seq = int64(len(s.threads[threadID]) + 1)
	s.threads[threadID] = append(s.threads[threadID], cp.Clone())
	return nil
}

func (s *memStore) Load(_ context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := s.threads[threadID]
	if len(cps) == 0 {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	return cps[len(cps)-1].Clone(), nil
}

func (s *memStore) List(_ context.Context, threadID string, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*checkpoint.Checkpoint
	for _, cp := range filter.Apply(s.threads[threadID]) {
		out = append(out, cp.Clone())
	}
	return out, nil
}

func (s *memStore) sources(threadID string) []checkpoint.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkpoint.Source
	for _, cp := range s.threads[threadID] {
		out = append(out, cp.Metadata.Source)
	}
	return out
}

func logSchema() *state.Schema {
	return state.NewSchema(
		state.WithField("log", state.AppendReducer{}),
		state.WithField("n", state.AddReducer{}),
	)
}

// appendNode appends its name to "log" and counts its invocations.
func appendNode(name string, calls *atomic.Int32) graph.NodeFunc {
	return func(context.Context, graph.Snapshot) (state.Update, error) {
		if calls != nil {
			calls.Add(1)
		}
		return state.Update{"log": name}, nil
	}
}

// linear builds prepare -> review -> finish.
func linear(name string, counts map[string]*atomic.Int32) *graph.Builder {
	return graph.New(name, logSchema()).
		AddNodeFunc("prepare", appendNode("prepare", counts["prepare"])).
		AddNodeFunc("review", appendNode("review", counts["review"])).
		AddNodeFunc("finish", appendNode("finish", counts["finish"])).
		AddEdge("prepare", "review").
		AddEdge("review", "finish").
		AddEdge("finish", graph.END).
		SetEntry("prepare")
}

func counters(names ...string) map[string]*atomic.Int32 {
	out := make(map[string]*atomic.Int32, len(names))
	for _, n := range names {
		out[n] = new(atomic.Int32)
	}
	return out
}

func compile(t *testing.T, b *graph.Builder, cfg Config) *Executable {
	t.Helper()
	exec, err := Compile(b, cfg)
	require.NoError(t, err)
	return exec
}

// eventLog collects delivered event types.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) HandleEvent(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
