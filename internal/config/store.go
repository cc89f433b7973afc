package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/flowgraph/stategraph/internal/adapters/repository/file"
	"github.com/flowgraph/stategraph/internal/adapters/repository/memory"
	"github.com/flowgraph/stategraph/internal/adapters/repository/postgres"
	"github.com/flowgraph/stategraph/internal/adapters/repository/sqlite"
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/pregel"
	"github.com/flowgraph/stategraph/internal/infrastructure/logging"
	"github.com/flowgraph/stategraph/pkg/serialization"
)

// Serializer builds the payload pipeline for durable stores.
func (s StoreConfig) Serializer() (*serialization.Serializer, error) {
	codec, err := serialization.CodecByName(s.Codec)
	if err != nil {
		return nil, err
	}
	compression, err := serialization.ParseCompression(s.Compression)
	if err != nil {
		return nil, err
	}
	key, err := s.KeyBytes()
	if err != nil {
		return nil, err
	}
	return serialization.New(serialization.Config{Codec: codec, Compression: compression, Key: key})
}

// OpenStore opens the configured checkpoint store. The returned closer
// releases it; both are nil for kind "none".
func OpenStore(ctx context.Context, s StoreConfig) (checkpoint.Store, io.Closer, error) {
	switch s.Kind {
	case "none":
		return nil, nil, nil
	case "", "memory":
		store := memory.New(memory.Config{TTL: s.TTL, MaxBytes: s.MaxBytes, MaxHistory: s.MaxHistory})
		return store, store, nil
	case "file":
		store, err := file.New(s.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, closerFunc(func() error { return nil }), nil
	}

	serializer, err := s.Serializer()
	if err != nil {
		return nil, nil, err
	}
	switch s.Kind {
	case "sqlite":
		dsn := s.DSN
		if dsn == "" {
			dsn = "file:stategraph.db"
		}
		store, err := sqlite.Open(ctx, dsn, serializer)
		if err != nil {
			return nil, nil, err
		}
		if s.Table != "" {
			store.WithTable(s.Table)
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
		}
		return store, store, nil
	case "postgres":
		store, err := postgres.Open(ctx, s.DSN, serializer)
		if err != nil {
			return nil, nil, err
		}
		if s.Table != "" {
			store.WithTable(s.Table)
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, closerFunc(func() error { store.Close(); return nil }), nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", s.Kind)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Logger builds the process logger.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return logging.New(c.Log.Level, c.Log.Format, w)
}

// EngineOptions maps the engine section onto pregel.Config.
func (c Config) EngineOptions(store checkpoint.Store, logger *slog.Logger) pregel.Config {
	return pregel.Config{
		Parallelism:       c.Engine.Parallelism,
		ParallelismFactor: c.Engine.ParallelismFactor,
		EventBuffer:       c.Engine.EventBuffer,
		CheckpointEvery:   c.Engine.CheckpointEvery,
		Store:             store,
		StoreKind:         c.Store.Kind,
		Logger:            logger,
	}
}
