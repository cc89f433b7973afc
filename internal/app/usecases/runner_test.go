package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	graphrepo "github.com/flowgraph/stategraph/internal/adapters/repository/graph"
	"github.com/flowgraph/stategraph/internal/adapters/repository/memory"
	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/pregel"
	"github.com/flowgraph/stategraph/internal/core/state"
)

var errBoom = errors.New("boom")

func step(name string) graph.NodeFunc {
	return func(context.Context, graph.Snapshot) (state.Update, error) {
		return state.Update{"log": name}, nil
	}
}

func newRunner(t *testing.T) (*Runner, *memory.Store) {
	t.Helper()
	store := memory.New(memory.Config{})
	t.Cleanup(func() { _ = store.Close() })

	schema := state.NewSchema(state.WithField("log", state.AppendReducer{}))
	review, err := pregel.Compile(graph.New("review", schema).
		AddNodeFunc("draft", step("draft")).
		AddNodeFunc("approve", step("approve")).
		AddEdge("draft", "approve").
		AddEdge("approve", graph.END).
		SetEntry("draft").
		InterruptBefore("approve"), pregel.Config{Store: store})
	require.NoError(t, err)

	broken, err := pregel.Compile(graph.New("broken", schema).
		AddNodeFunc("fail", func(context.Context, graph.Snapshot) (state.Update, error) {
			return nil, errBoom
		}).
		AddEdge("fail", graph.END).
		SetEntry("fail"), pregel.Config{Store: store})
	require.NoError(t, err)

	reg := graphrepo.NewRegistry()
	require.NoError(t, reg.Register(review))
	require.NoError(t, reg.Register(broken))
	return NewRunner(reg), store
}

func TestRunnerRunAndResume(t *testing.T) {
	ctx := context.Background()
	runner, _ := newRunner(t)

	resp, err := runner.Run(ctx, &dto.RunRequest{Graph: "review", Input: map[string]any{"log": []any{}}})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ThreadID)
	assert.Equal(t, dto.RunStatusInterrupted, resp.Status)
	require.NotNil(t, resp.Interrupt)
	assert.Equal(t, checkpoint.InterruptBefore, resp.Interrupt.Kind)
	assert.Equal(t, []string{"approve"}, resp.Interrupt.Nodes)
	assert.Equal(t, []any{"draft"}, resp.State["log"])

	view, err := runner.State(ctx, &dto.ThreadRequest{Graph: "review", ThreadID: resp.ThreadID})
	require.NoError(t, err)
	assert.Equal(t, []string{"approve"}, view.Next)
	require.NotNil(t, view.Pending)

	resumed, err := runner.Resume(ctx, &dto.ThreadRequest{Graph: "review", ThreadID: resp.ThreadID})
	require.NoError(t, err)
	assert.Equal(t, dto.RunStatusCompleted, resumed.Status)
	assert.Equal(t, []any{"draft", "approve"}, resumed.State["log"])

	history, err := runner.History(ctx, &dto.ThreadRequest{Graph: "review", ThreadID: resp.ThreadID}, checkpoint.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Seq, history[i-1].Seq)
	}
	assert.Equal(t, checkpoint.SourceDone, history[len(history)-1].Source)
}

func TestRunnerUpdateWhilePaused(t *testing.T) {
	ctx := context.Background()
	runner, _ := newRunner(t)

	resp, err := runner.Run(ctx, &dto.RunRequest{Graph: "review", ThreadID: "t-1"})
	require.NoError(t, err)
	require.Equal(t, dto.RunStatusInterrupted, resp.Status)

	view, err := runner.Update(ctx, &dto.UpdateRequest{
		ThreadRequest: dto.ThreadRequest{Graph: "review", ThreadID: "t-1"},
		Update:        map[string]any{"log": "edited"},
	})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.SourceUpdate, view.Source)
	assert.Equal(t, []string{"approve"}, view.Next)

	resumed, err := runner.Resume(ctx, &dto.ThreadRequest{Graph: "review", ThreadID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, []any{"draft", "edited", "approve"}, resumed.State["log"])
}

func TestRunnerContinueThread(t *testing.T) {
	ctx := context.Background()
	runner, _ := newRunner(t)

	_, err := runner.Run(ctx, &dto.RunRequest{Graph: "review", Continue: true})
	require.ErrorIs(t, err, dto.ErrMissingThreadID)

	resp, err := runner.Run(ctx, &dto.RunRequest{Graph: "review", ThreadID: "chat", Continue: true})
	require.NoError(t, err)
	assert.Equal(t, dto.RunStatusInterrupted, resp.Status)

	resp, err = runner.Run(ctx, &dto.RunRequest{
		Graph: "review", ThreadID: "chat", Continue: true,
		Input: map[string]any{"log": "note"},
	})
	require.NoError(t, err)
	assert.Equal(t, dto.RunStatusCompleted, resp.Status)
	assert.Equal(t, []any{"draft", "note", "approve"}, resp.State["log"])
}

func TestRunnerFailure(t *testing.T) {
	runner, _ := newRunner(t)

	resp, err := runner.Run(context.Background(), &dto.RunRequest{Graph: "broken"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, pregel.ErrNodeFailed)
	require.NotNil(t, resp)
	assert.Equal(t, dto.RunStatusFailed, resp.Status)
	assert.Nil(t, resp.State)
	assert.Contains(t, resp.Error, "boom")
}

func TestRunnerCanceled(t *testing.T) {
	runner, _ := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := runner.Run(ctx, &dto.RunRequest{Graph: "review"})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, dto.RunStatusCanceled, resp.Status)
}

func TestRunnerRequestErrors(t *testing.T) {
	ctx := context.Background()
	runner, _ := newRunner(t)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"missing graph", func() error {
			_, err := runner.Run(ctx, &dto.RunRequest{})
			return err
		}, dto.ErrMissingGraph},
		{"unknown graph", func() error {
			_, err := runner.Run(ctx, &dto.RunRequest{Graph: "nope"})
			return err
		}, graphrepo.ErrGraphNotFound},
		{"bad interrupt name", func() error {
			_, err := runner.Run(ctx, &dto.RunRequest{Graph: "review", InterruptAfter: []string{"no such"}})
			return err
		}, dto.ErrInvalidRequest},
		{"resume without thread", func() error {
			_, err := runner.Resume(ctx, &dto.ThreadRequest{Graph: "review"})
			return err
		}, dto.ErrMissingThreadID},
		{"resume unknown thread", func() error {
			_, err := runner.Resume(ctx, &dto.ThreadRequest{Graph: "review", ThreadID: "ghost"})
			return err
		}, pregel.ErrNoCheckpoint},
		{"negative budget", func() error {
			_, err := runner.Run(ctx, &dto.RunRequest{Graph: "review", Budgets: &graph.Budgets{MaxSteps: -1}})
			return err
		}, dto.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
}

func TestRunnerDefaultBudgets(t *testing.T) {
	runner, _ := newRunner(t)
	limited := NewRunner(runner.graphs, WithDefaultBudgets(graph.Budgets{MaxSteps: 1}))

	resp, err := limited.Run(context.Background(), &dto.RunRequest{Graph: "review"})
	require.ErrorIs(t, err, pregel.ErrBudgetExceeded)
	assert.Equal(t, dto.RunStatusFailed, resp.Status)

	resp, err = limited.Run(context.Background(), &dto.RunRequest{Graph: "review", Budgets: &graph.Budgets{MaxSteps: 10}})
	require.NoError(t, err, "request budgets win over defaults")
	assert.Equal(t, dto.RunStatusInterrupted, resp.Status)
}

func TestRunnerDelete(t *testing.T) {
	ctx := context.Background()
	runner, store := newRunner(t)

	_, err := runner.Run(ctx, &dto.RunRequest{Graph: "review", ThreadID: "doomed"})
	require.NoError(t, err)

	err = runner.Delete(ctx, &dto.ThreadRequest{Graph: "broken", ThreadID: "doomed"})
	require.ErrorIs(t, err, pregel.ErrGraphMismatch, "a thread is deleted through its own graph")

	require.NoError(t, runner.Delete(ctx, &dto.ThreadRequest{Graph: "review", ThreadID: "doomed"}))
	assert.NotContains(t, store.Threads(), "doomed")

	err = runner.Delete(ctx, &dto.ThreadRequest{Graph: "review", ThreadID: "doomed"})
	assert.ErrorIs(t, err, pregel.ErrNoCheckpoint)
}
