package consume

import (
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the dispatch settings fixed at construction.
//
// Example TOML accepted by LoadConfig:
//
//	transacted  = true
//	synchronous = true
//	topic       = false
//
//	[commit]
//	strategy   = "batch" # "default" or "batch"
//	batch_size = 10
//
//	[pool]
//	workers = 8
type Config struct {
	// Transacted attaches the Synchronization to every exchange and forces
	// inline processing regardless of Synchronous.
	Transacted bool `toml:"transacted"`

	// Synchronous processes on the delivery goroutine. When false (and not
	// Transacted), exchanges are submitted to the Pool.
	Synchronous bool `toml:"synchronous"`

	// Topic marks the endpoint as a topic consumer. Informational only.
	Topic bool `toml:"topic"`

	// Commit selects the CommitStrategy built by LoadConfig.
	Commit CommitConfig `toml:"commit"`

	// Pool sizes the WorkerPool of binaries built on this package.
	Pool PoolConfig `toml:"pool"`

	// CommitStrategy is passed through to the transaction layer untouched.
	CommitStrategy CommitStrategy `toml:"-"`
}

// CommitConfig is the [commit] table.
type CommitConfig struct {
	Strategy  string `toml:"strategy"`
	BatchSize int    `toml:"batch_size"`
}

// PoolConfig is the [pool] table.
type PoolConfig struct {
	Workers int `toml:"workers"`
}

// DefaultConfig returns the defaults: synchronous, not transacted, one
// worker, no commit strategy.
func DefaultConfig() Config {
	return Config{
		Synchronous: true,
		Pool:        PoolConfig{Workers: 1},
	}
}

// LoadConfig decodes TOML from r on top of DefaultConfig and resolves the
// commit strategy. Unknown keys are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Pool.Workers < 1 {
		return Config{}, fmt.Errorf("%w: pool.workers must be at least 1, got %d", ErrInvalidConfig, cfg.Pool.Workers)
	}

	switch cfg.Commit.Strategy {
	case "":
	case "default":
		cfg.CommitStrategy = DefaultCommitStrategy()
	case "batch":
		if cfg.Commit.BatchSize < 1 {
			return Config{}, fmt.Errorf("%w: commit.batch_size must be at least 1, got %d", ErrInvalidConfig, cfg.Commit.BatchSize)
		}
		cfg.CommitStrategy = BatchCommitStrategy(cfg.Commit.BatchSize)
	default:
		return Config{}, fmt.Errorf("%w: unknown commit.strategy %q", ErrInvalidConfig, cfg.Commit.Strategy)
	}

	return cfg, nil
}
