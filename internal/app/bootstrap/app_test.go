package bootstrap

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/config"
)

func TestNewRegistersPrebuilts(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Kind = "file"
	cfg.Store.Dir = t.TempDir()

	app, err := New(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, []string{"diamond", "refine", "review", "tools"}, app.Registry.Names())
	require.NotNil(t, app.Store)

	resp, err := app.Runner.Run(context.Background(), &dto.RunRequest{Graph: "diamond", ThreadID: "boot-1"})
	require.NoError(t, err)
	assert.Equal(t, dto.RunStatusCompleted, resp.Status)
	assert.EqualValues(t, 2, resp.State["joined"])
}

func TestNewWithoutStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Kind = "none"

	app, err := New(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	assert.Nil(t, app.Store)
	assert.NoError(t, app.Close())

	resp, err := app.Runner.Run(context.Background(), &dto.RunRequest{Graph: "refine"})
	require.NoError(t, err)
	assert.Equal(t, dto.RunStatusCompleted, resp.Status)
}
