// Package bootstrap assembles the process-level objects shared by the
// CLI and the server: logger, checkpoint store, compiled graphs and the
// runner.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	graphrepo "github.com/flowgraph/stategraph/internal/adapters/repository/graph"
	"github.com/flowgraph/stategraph/internal/app/usecases"
	"github.com/flowgraph/stategraph/internal/config"
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/pregel"
	"github.com/flowgraph/stategraph/pkg/prebuilt"
)

// App holds the wired components.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    checkpoint.Store
	Registry *graphrepo.Registry
	Runner   *usecases.Runner

	closer io.Closer
}

// New opens the configured store and registers every prebuilt template
// under its kind name. Log output goes to logOut.
func New(ctx context.Context, cfg config.Config, logOut io.Writer) (*App, error) {
	logger := cfg.Logger(logOut)
	store, closer, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Kind, err)
	}

	engine := cfg.EngineOptions(store, logger)
	engine.Handlers = append(engine.Handlers, pregel.SlogHandler{Logger: logger})

	registry := graphrepo.NewRegistry()
	for _, kind := range prebuilt.DefaultRegistry.Kinds() {
		b, err := prebuilt.DefaultRegistry.Build(kind, kind)
		if err == nil {
			var exec *pregel.Executable
			if exec, err = pregel.Compile(b, engine); err == nil {
				err = registry.Register(exec)
			}
		}
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, fmt.Errorf("register %s: %w", kind, err)
		}
	}

	logger.Debug("application ready", "store", cfg.Store.Kind, "graphs", registry.Names())
	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Registry: registry,
		Runner:   usecases.NewRunner(registry, usecases.WithDefaultBudgets(cfg.Budgets)),
		closer:   closer,
	}, nil
}

// Close releases the checkpoint store.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
