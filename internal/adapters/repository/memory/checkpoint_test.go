package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/state"
)

func newCheckpoint(thread string, step uint64, st state.State) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:        fmt.Sprintf("%s-%d", thread, step),
		GraphID:   "g",
		ThreadID:  thread,
		Step:      step,
		State:     st,
		Frontier:  []checkpoint.Task{{Node: "next", Path: "p"}},
		Metadata:  checkpoint.Metadata{Source: checkpoint.SourceLoop},
		Timestamp: time.Now().UTC(),
		Version:   checkpoint.FormatVersion,
	}
}

func TestStore_SaveLoadHistory(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	defer s.Close()

	for step := uint64(0); step < 3; step++ {
		cp := newCheckpoint("t1", step, state.State{"n": int(step), "log": []any{"a"}})
		require.NoError(t, s.Save(ctx, "t1", cp))
		assert.Equal(t, int64(step+1), cp.Seq)
	}

	latest, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Step)
	assert.Equal(t, 2, latest.State["n"], "Go types survive")

	latest.State["log"] = []any{"mutated"}
	again, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, again.State["log"], "loads are copies")

	history, err := s.List(ctx, "t1", checkpoint.Filter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(2), history[0].Seq)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
	_, err = s.List(ctx, "t1", checkpoint.Filter{Limit: -1})
	assert.ErrorIs(t, err, checkpoint.ErrInvalidLimit)
}

func TestStore_ValidationAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	defer s.Close()

	assert.ErrorIs(t, s.Save(ctx, "t", nil), checkpoint.ErrNilCheckpoint)
	bad := newCheckpoint("t", 0, nil)
	assert.ErrorIs(t, s.Save(ctx, "t", bad), checkpoint.ErrNilState)

	require.NoError(t, s.Save(ctx, "t", newCheckpoint("t", 0, state.State{})))
	assert.Equal(t, []string{"t"}, s.Threads())
	require.NoError(t, s.Delete(ctx, "t"))
	assert.ErrorIs(t, s.Delete(ctx, "t"), checkpoint.ErrCheckpointNotFound)
	_, err := s.Load(ctx, "t")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := New(Config{TTL: 50 * time.Millisecond, CleanupInterval: 10 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Save(ctx, "t", newCheckpoint("t", 0, state.State{})))
	_, err := s.Load(ctx, "t")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return s.Stats().Threads == 0
	}, time.Second, 10*time.Millisecond)
	_, err = s.Load(ctx, "t")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)

	// A new write after expiry restarts the sequence.
	cp := newCheckpoint("t", 0, state.State{})
	require.NoError(t, s.Save(ctx, "t", cp))
	assert.Equal(t, int64(1), cp.Seq)
}

func TestStore_MaxHistory(t *testing.T) {
	ctx := context.Background()
	s := New(Config{MaxHistory: 2})
	defer s.Close()

	for step := uint64(0); step < 5; step++ {
		require.NoError(t, s.Save(ctx, "t", newCheckpoint("t", step, state.State{})))
	}
	history, err := s.List(ctx, "t", checkpoint.Filter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(4), history[0].Seq)
	assert.Equal(t, int64(5), history[1].Seq)
}

func TestStore_EvictsLeastRecentlyUsedThreads(t *testing.T) {
	ctx := context.Background()
	blob := state.State{"blob": strings.Repeat("x", 4096)}
	s := New(Config{MaxBytes: 10 * 1024})
	defer s.Close()

	require.NoError(t, s.Save(ctx, "old", newCheckpoint("old", 0, blob)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Save(ctx, "recent", newCheckpoint("recent", 0, blob)))
	time.Sleep(2 * time.Millisecond)
	_, err := s.Load(ctx, "old")
	require.NoError(t, err, "touching old makes recent the eviction candidate")
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, s.Save(ctx, "new", newCheckpoint("new", 0, blob)))
	assert.Equal(t, []string{"new", "old"}, s.Threads())
	assert.LessOrEqual(t, s.Stats().Bytes, int64(10*1024))

	huge := state.State{"blob": strings.Repeat("x", 64*1024)}
	err = s.Save(ctx, "huge", newCheckpoint("huge", 0, huge))
	assert.ErrorContains(t, err, "memory limit exceeded")
	assert.NotContains(t, s.Threads(), "huge")
}

func TestStore_ConcurrentThreads(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			thread := fmt.Sprintf("t%d", i)
			for step := uint64(0); step < 20; step++ {
				assert.NoError(t, s.Save(ctx, thread, newCheckpoint(thread, step, state.State{"i": i})))
			}
		}(i)
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, 8, st.Threads)
	assert.Equal(t, 160, st.Checkpoints)
	for i := 0; i < 8; i++ {
		cp, err := s.Load(ctx, fmt.Sprintf("t%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(20), cp.Seq)
	}
}
