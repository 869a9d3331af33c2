package ecs

import "github.com/DangerosoDavo/lynx/config"

// WorldOptionsFromConfig translates file configuration into world options.
func WorldOptionsFromConfig(cfg config.WorldConfig) []WorldOption {
	opts := []WorldOption{WithMaxEntities(cfg.MaxEntities)}
	for name, n := range cfg.PoolCapacity {
		opts = append(opts, WithCapacityHint(name, n))
	}
	return opts
}

// SchedulerOptionsFromConfig translates file configuration into scheduler
// options. A zero worker count keeps the GOMAXPROCS default.
func SchedulerOptionsFromConfig(cfg config.SchedulerConfig) []SchedulerOption {
	opts := []SchedulerOption{
		WithStageBarriers(cfg.StageBarriers),
		WithTracing(cfg.Trace),
	}
	if cfg.Workers > 0 {
		opts = append(opts, WithWorkers(cfg.Workers))
	}
	return opts
}
