package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "lynx.toml", `
[world]
max_entities = 5000

[world.pool_capacity]
transform = 4096

[scheduler]
workers = 4
stage_barriers = true

[logging]
level = "debug"

[bench]
entities = 2000
delta_ms = 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.World.MaxEntities)
	assert.Equal(t, map[string]int{"transform": 4096}, cfg.World.PoolCapacity)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.True(t, cfg.Scheduler.StageBarriers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format, "unset fields keep defaults")
	assert.Equal(t, 2000, cfg.Bench.Entities)
	assert.Equal(t, 8, cfg.Bench.DeltaMillis)
	assert.Equal(t, 300, cfg.Bench.Steps)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "lynx.yaml", `
scheduler:
  workers: 2
  trace: true
logging:
  format: json
metrics:
  enabled: true
  path: metrics.prom
  spans: spans.jsonl
bench:
  enemy_ratio: 0.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.True(t, cfg.Scheduler.Trace)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "metrics.prom", cfg.Metrics.Path)
	assert.Equal(t, "spans.jsonl", cfg.Metrics.Spans)
	assert.Equal(t, 0.5, cfg.Bench.EnemyRatio)
	assert.Equal(t, 1<<20, cfg.World.MaxEntities)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "broken.toml", "[world\nmax_entities = 1"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "broken.yml", "world: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "invalid.toml", "[bench]\nenemy_ratio = 2.0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enemy_ratio")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	cases := map[string]func(*Config){
		"negative max entities": func(c *Config) { c.World.MaxEntities = -1 },
		"negative capacity":     func(c *Config) { c.World.PoolCapacity["hp"] = -5 },
		"negative workers":      func(c *Config) { c.Scheduler.Workers = -2 },
		"negative steps":        func(c *Config) { c.Bench.Steps = -1 },
		"zero delta":            func(c *Config) { c.Bench.DeltaMillis = 0 },
		"bench over limit": func(c *Config) {
			c.World.MaxEntities = 10
			c.Bench.Entities = 11
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
