// Package config loads world, scheduler and tooling settings from TOML or
// YAML files.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config is the full file configuration.
type Config struct {
	World     WorldConfig     `toml:"world" yaml:"world"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Bench     BenchConfig     `toml:"bench" yaml:"bench"`
}

// WorldConfig sizes the world.
type WorldConfig struct {
	MaxEntities int `toml:"max_entities" yaml:"max_entities"` // 0 = unbounded
	// PoolCapacity pre-sizes pools by component name.
	PoolCapacity map[string]int `toml:"pool_capacity" yaml:"pool_capacity"`
}

// SchedulerConfig controls system dispatch.
type SchedulerConfig struct {
	Workers       int  `toml:"workers" yaml:"workers"` // 0 = GOMAXPROCS
	StageBarriers bool `toml:"stage_barriers" yaml:"stage_barriers"`
	Trace         bool `toml:"trace" yaml:"trace"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "json" or "console"
}

// MetricsConfig enables metrics and span output.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"` // exposition file, "-" for stdout
	Spans   string `toml:"spans" yaml:"spans"`
}

// BenchConfig drives lynxbench.
type BenchConfig struct {
	Entities    int     `toml:"entities" yaml:"entities"`
	Steps       int     `toml:"steps" yaml:"steps"`
	EnemyRatio  float64 `toml:"enemy_ratio" yaml:"enemy_ratio"`
	DeltaMillis int     `toml:"delta_ms" yaml:"delta_ms"`
	Seed        int64   `toml:"seed" yaml:"seed"`
}

// Load reads path, choosing the decoder by extension (.yaml/.yml or TOML
// otherwise), on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read config %s", path)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, eris.Wrapf(err, "parse config %s", path)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, eris.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			MaxEntities:  1 << 20,
			PoolCapacity: map[string]int{},
		},
		Scheduler: SchedulerConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Path: "-",
		},
		Bench: BenchConfig{
			Entities:    10000,
			Steps:       300,
			EnemyRatio:  0.25,
			DeltaMillis: 16,
			Seed:        1,
		},
	}
}

// Validate rejects negative limits and out-of-range ratios.
func (c *Config) Validate() error {
	if c.World.MaxEntities < 0 {
		return eris.Errorf("world.max_entities must be >= 0, got %d", c.World.MaxEntities)
	}
	for name, n := range c.World.PoolCapacity {
		if n < 0 {
			return eris.Errorf("world.pool_capacity.%s must be >= 0, got %d", name, n)
		}
	}
	if c.Scheduler.Workers < 0 {
		return eris.Errorf("scheduler.workers must be >= 0, got %d", c.Scheduler.Workers)
	}
	if c.Bench.Entities < 0 || c.Bench.Steps < 0 {
		return eris.Errorf("bench.entities and bench.steps must be >= 0")
	}
	if c.Bench.EnemyRatio < 0 || c.Bench.EnemyRatio > 1 {
		return eris.Errorf("bench.enemy_ratio must be within [0,1], got %v", c.Bench.EnemyRatio)
	}
	if c.Bench.DeltaMillis <= 0 {
		return eris.Errorf("bench.delta_ms must be positive, got %d", c.Bench.DeltaMillis)
	}
	if c.World.MaxEntities > 0 && c.Bench.Entities > c.World.MaxEntities {
		return eris.Errorf("bench.entities %d exceeds world.max_entities %d", c.Bench.Entities, c.World.MaxEntities)
	}
	return nil
}
