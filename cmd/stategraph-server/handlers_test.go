package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/app/bootstrap"
	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/config"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/pregel"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "error"
	app, err := bootstrap.New(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	srv := httptest.NewServer(newHandler(app))
	t.Cleanup(func() {
		srv.Close()
		_ = app.Close()
	})
	return srv
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	// Drive one run so engine counters exist.
	var run dto.RunResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/v1/runs", dto.RunRequest{Graph: "diamond"}, &run))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "# TYPE stategraph_supersteps_total counter")
	assert.Contains(t, string(body), `stategraph_node_executions_total{node="split"}`)

	var vars map[string]any
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/debug/vars", nil, &vars))
	assert.Contains(t, vars, "stategraph_supersteps_total")
}

func TestRunPauseEditResume(t *testing.T) {
	srv := newTestServer(t)

	var graphs map[string][]string
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/graphs", nil, &graphs))
	assert.Contains(t, graphs["graphs"], "review")

	var run dto.RunResponse
	status := do(t, http.MethodPost, srv.URL+"/v1/runs", dto.RunRequest{Graph: "review", ThreadID: "http-1"}, &run)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, dto.RunStatusInterrupted, run.Status)

	thread := srv.URL + "/v1/threads/review/http-1"
	var view dto.CheckpointView
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, thread, nil, &view))
	assert.Equal(t, []string{"review"}, view.Next)

	require.Equal(t, http.StatusOK, do(t, http.MethodPatch, thread+"/state", map[string]any{"update": map[string]any{"approved": true}}, &view))
	assert.Equal(t, "update", string(view.Source))

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, thread+"/resume", nil, &run))
	assert.Equal(t, dto.RunStatusCompleted, run.Status)
	assert.Equal(t, "draft-1", run.State["published"])

	var history struct {
		Checkpoints []dto.CheckpointView `json:"checkpoints"`
	}
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, thread+"/history?limit=2", nil, &history))
	assert.Len(t, history.Checkpoints, 2)

	require.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, thread, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, thread, nil, nil))
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing graph", http.MethodPost, "/v1/runs", map[string]any{}, http.StatusBadRequest},
		{"unknown graph", http.MethodPost, "/v1/runs", dto.RunRequest{Graph: "nope"}, http.StatusNotFound},
		{"unknown thread", http.MethodGet, "/v1/threads/review/ghost", nil, http.StatusNotFound},
		{"resume unknown thread", http.MethodPost, "/v1/threads/review/ghost/resume", nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/v1/threads/review/ghost/history?limit=x", nil, http.StatusBadRequest},
		{"update without body", http.MethodPatch, "/v1/threads/review/ghost/state", map[string]any{}, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/v1/runs", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, tt.method, srv.URL+tt.path, tt.body, nil))
		})
	}
}

func TestFailedRunReportsBody(t *testing.T) {
	srv := newTestServer(t)
	var run dto.RunResponse
	status := do(t, http.MethodPost, srv.URL+"/v1/runs", dto.RunRequest{
		Graph:   "refine",
		Budgets: &graph.Budgets{MaxSteps: 1},
	}, &run)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, dto.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "budget exceeded")
	assert.NotEmpty(t, run.ThreadID)
}

func TestStatusForRoutingFailures(t *testing.T) {
	for _, cause := range []error{graph.ErrUnknownTarget, graph.ErrRouterPanic} {
		err := &pregel.RoutingError{Node: "a", Step: 1, Err: fmt.Errorf("%w: a", cause)}
		assert.Equal(t, http.StatusUnprocessableEntity, statusFor(err), cause.Error())
	}
}
