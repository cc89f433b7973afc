// Package config loads stategraph settings from defaults, an optional
// YAML file, an optional .env file and STATEGRAPH_* environment
// variables, in increasing order of precedence.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STATEGRAPH_"

// Config is the full application configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Budgets graph.Budgets `yaml:"budgets" json:"budgets"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Server  ServerConfig  `yaml:"server" json:"server"`
}

// EngineConfig tunes superstep execution.
type EngineConfig struct {
	Parallelism       int     `yaml:"parallelism" json:"parallelism" validate:"gte=0"`
	ParallelismFactor float64 `yaml:"parallelism_factor" json:"parallelism_factor" validate:"gte=0"`
	EventBuffer       int     `yaml:"event_buffer" json:"event_buffer" validate:"gte=0"`
	// CheckpointEvery is the periodic snapshot cadence; negative disables.
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every"`
}

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Kind        string        `yaml:"kind" json:"kind" validate:"oneof=none memory sqlite postgres file"`
	DSN         string        `yaml:"dsn" json:"dsn" validate:"required_if=Kind postgres"`
	Dir         string        `yaml:"dir" json:"dir" validate:"required_if=Kind file"`
	Table       string        `yaml:"table" json:"table"`
	Codec       string        `yaml:"codec" json:"codec" validate:"omitempty,oneof=json msgpack"`
	Compression string        `yaml:"compression" json:"compression" validate:"omitempty,oneof=none gzip zstd"`
	// Key is a hex encoded AES key enabling payload encryption.
	Key        string        `yaml:"key" json:"-" validate:"omitempty,hexadecimal"`
	TTL        time.Duration `yaml:"ttl" json:"ttl" validate:"gte=0"`
	MaxBytes   int64         `yaml:"max_bytes" json:"max_bytes" validate:"gte=0"`
	MaxHistory int           `yaml:"max_history" json:"max_history" validate:"gte=0"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Budgets: graph.DefaultBudgets(),
		Store: StoreConfig{
			Kind:        "memory",
			Dir:         "checkpoints",
			Codec:       "msgpack",
			Compression: "zstd",
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
	}
}

// Options locates the optional files Load reads.
type Options struct {
	// File is a YAML file. Empty skips it; a named file must exist.
	File string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Load builds a validated Config.
func Load(opts Options) (Config, error) {
	cfg := Default()
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", opts.File, err)
		}
	}
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store.Key != "" {
		if _, err := c.Store.KeyBytes(); err != nil {
			return fmt.Errorf("invalid configuration: store.key: %w", err)
		}
	}
	return nil
}

// KeyBytes decodes the hex encryption key.
func (s StoreConfig) KeyBytes() ([]byte, error) {
	if s.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.Key)
	if err != nil {
		return nil, err
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("key is %d bytes, want 16, 24 or 32", len(key))
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays STATEGRAPH_* variables onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	num("PARALLELISM", &cfg.Engine.Parallelism)
	num("EVENT_BUFFER", &cfg.Engine.EventBuffer)
	num("CHECKPOINT_EVERY", &cfg.Engine.CheckpointEvery)
	num("MAX_STEPS", &cfg.Budgets.MaxSteps)
	num("MAX_VISITS_PER_PATH", &cfg.Budgets.MaxVisitsPerPath)
	dur("MAX_DURATION", &cfg.Budgets.MaxDuration)
	dur("NODE_TIMEOUT", &cfg.Budgets.NodeTimeout)
	str("STORE_KIND", &cfg.Store.Kind)
	str("STORE_DSN", &cfg.Store.DSN)
	str("STORE_DIR", &cfg.Store.Dir)
	str("STORE_TABLE", &cfg.Store.Table)
	str("STORE_CODEC", &cfg.Store.Codec)
	str("STORE_COMPRESSION", &cfg.Store.Compression)
	str("STORE_KEY", &cfg.Store.Key)
	dur("STORE_TTL", &cfg.Store.TTL)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("SERVER_ADDR", &cfg.Server.Addr)
	return errors.Join(errs...)
}
