package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/state"
)

func TestListQuery(t *testing.T) {
	s := New(nil, nil).WithTable("runs")
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := s.listQuery("t1", checkpoint.Filter{
		Source: checkpoint.SourceLoop,
		Since:  &since,
		Tags:   []string{"batch"},
		Limit:  5,
		Offset: 2,
	})

	assert.True(t, strings.HasPrefix(query, "SELECT seq, payload FROM runs WHERE thread_id = $1"))
	assert.Contains(t, query, "source = $2")
	assert.Contains(t, query, "created_at >= $3")
	assert.Contains(t, query, "tags @> $4")
	assert.Contains(t, query, "ORDER BY seq ASC LIMIT $5 OFFSET $6")
	assert.Equal(t, []any{"t1", "loop", since, []string{"batch"}, 5, 2}, args)
}

func TestWithTableRejectsUnsafeNames(t *testing.T) {
	s := New(nil, nil)
	s.WithTable("x; DROP TABLE y")
	assert.Equal(t, "checkpoints", s.table)
	s.WithTable("stategraph_checkpoints")
	assert.Equal(t, "stategraph_checkpoints", s.table)
}

func TestSaveRejectsInvalidCheckpoints(t *testing.T) {
	s := New(nil, nil)
	assert.ErrorIs(t, s.Save(context.Background(), "t", nil), checkpoint.ErrNilCheckpoint)
	assert.ErrorIs(t, s.Save(context.Background(), "t", &checkpoint.Checkpoint{}), checkpoint.ErrInvalidCheckpointID)
}

// openTestStore connects to the database named by
// STATEGRAPH_TEST_POSTGRES_DSN in a fresh table.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("STATEGRAPH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STATEGRAPH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, nil)
	require.NoError(t, err)
	table := fmt.Sprintf("stategraph_test_%d", time.Now().UnixNano())
	s.WithTable(table)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		s.Close()
	})
	return s
}

func TestStore_Integration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, src := range []checkpoint.Source{checkpoint.SourceInput, checkpoint.SourceLoop, checkpoint.SourceDone} {
		cp := &checkpoint.Checkpoint{
			ID:        fmt.Sprintf("cp-%d", i),
			GraphID:   "g",
			ThreadID:  "t1",
			Step:      uint64(i),
			State:     state.State{"log": []any{"a"}, "n": i},
			Metadata:  checkpoint.Metadata{Source: src, Tags: []string{"batch"}},
			Timestamp: time.Now().UTC(),
			Version:   checkpoint.FormatVersion,
		}
		require.NoError(t, s.Save(ctx, "t1", cp))
		assert.Equal(t, int64(i+1), cp.Seq)
	}

	latest, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Seq)
	assert.Equal(t, int64(2), latest.State["n"])

	loops, err := s.List(ctx, "t1", checkpoint.Filter{Source: checkpoint.SourceLoop, Tags: []string{"batch"}})
	require.NoError(t, err)
	require.Len(t, loops, 1)
	assert.Equal(t, int64(2), loops[0].Seq)

	unlock, err := s.Lock(ctx, "t1")
	require.NoError(t, err)
	_, err = s.Lock(ctx, "t1")
	assert.ErrorIs(t, err, checkpoint.ErrThreadLocked)
	unlock()
	unlock2, err := s.Lock(ctx, "t1")
	require.NoError(t, err)
	unlock2()

	require.NoError(t, s.Delete(ctx, "t1"))
	_, err = s.Load(ctx, "t1")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
}
