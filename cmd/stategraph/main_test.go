package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/app/dto"
)

// execute runs the CLI against a fresh file store and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func useFileStore(t *testing.T) {
	t.Helper()
	t.Setenv("STATEGRAPH_STORE_KIND", "file")
	t.Setenv("STATEGRAPH_STORE_DIR", t.TempDir())
	t.Setenv("STATEGRAPH_LOG_LEVEL", "error")
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		commit    string
		buildTime string
		want      string
	}{
		{"dev defaults", "dev", "unknown", "unknown", "stategraph dev (commit: unknown, built: unknown)\n"},
		{"custom values", "v1.0.0", "abc123", "2024-01-01", "stategraph v1.0.0 (commit: abc123, built: 2024-01-01)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldVersion, oldCommit, oldBuild := Version, Commit, BuildTime
			defer func() { Version, Commit, BuildTime = oldVersion, oldCommit, oldBuild }()
			Version, Commit, BuildTime = tt.version, tt.commit, tt.buildTime

			out, err := execute(t, "version")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestGraphs(t *testing.T) {
	useFileStore(t)
	out, err := execute(t, "graphs")
	require.NoError(t, err)
	assert.Equal(t, "diamond\nrefine\nreview\ntools\n", out)
}

func TestRunJSON(t *testing.T) {
	useFileStore(t)
	out, err := execute(t, "run", "tools", "-o", "json", "-t", "cli-tools", "-i", `{"question":"hey"}`)
	require.NoError(t, err)

	var resp dto.RunResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, dto.RunStatusCompleted, resp.Status)
	assert.Equal(t, "cli-tools", resp.ThreadID)
	assert.Equal(t, "echo: hey; length: 3", resp.State["answer"])
}

func TestReviewAcrossInvocations(t *testing.T) {
	useFileStore(t)

	out, err := execute(t, "run", "review", "-t", "cli-review")
	require.NoError(t, err)
	assert.Contains(t, out, "status: interrupted")
	assert.Contains(t, out, "paused: before review")

	out, err = execute(t, "update", "review", "cli-review", "--set", `{"approved":true}`)
	require.NoError(t, err)
	assert.Contains(t, out, "source: update")
	assert.Contains(t, out, "next:   review")

	out, err = execute(t, "resume", "review", "cli-review")
	require.NoError(t, err)
	assert.Contains(t, out, "status: completed")
	assert.Contains(t, out, "published = draft-1")

	out, err = execute(t, "history", "review", "cli-review", "-o", "json")
	require.NoError(t, err)
	var views []dto.CheckpointView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.NotEmpty(t, views)
	assert.Equal(t, "done", string(views[len(views)-1].Source))

	out, err = execute(t, "history", "review", "cli-review", "--source", "interrupt")
	require.NoError(t, err)
	assert.Contains(t, out, "interrupt")
	assert.NotContains(t, out, "done")

	out, err = execute(t, "delete", "review", "cli-review")
	require.NoError(t, err)
	assert.Equal(t, "deleted cli-review\n", out)
	_, err = execute(t, "state", "review", "cli-review")
	assert.Error(t, err)
}

func TestRunErrors(t *testing.T) {
	useFileStore(t)

	_, err := execute(t, "run", "nope")
	assert.Error(t, err)

	_, err = execute(t, "run", "diamond", "-i", "{not json")
	assert.ErrorContains(t, err, "parse input")

	_, err = execute(t, "resume", "review", "ghost")
	assert.Error(t, err)

	_, err = execute(t, "graphs", "-o", "yaml")
	assert.ErrorContains(t, err, "unknown output format")
}
