package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/lynx"
	"github.com/DangerosoDavo/lynx/config"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.World.MaxEntities = 2
	cfg.World.PoolCapacity["Health"] = 300
	cfg.Scheduler.Workers = 3
	cfg.Scheduler.StageBarriers = true

	f := newFixture(t, ecs.WorldOptionsFromConfig(cfg.World)...)
	pool, err := ecs.PoolOf[Health](f.world)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pool.Cap(), 300)

	f.spawn(t)
	f.spawn(t)
	_, err = f.world.Create()
	assert.ErrorIs(t, err, ecs.ErrExhausted)

	sched := ecs.NewScheduler(f.world, ecs.SchedulerOptionsFromConfig(cfg.Scheduler)...)
	t.Cleanup(sched.Close)
	assert.Equal(t, 3, sched.Workers())

	defaults := ecs.NewScheduler(ecs.NewWorld(), ecs.SchedulerOptionsFromConfig(config.SchedulerConfig{Workers: 0})...)
	t.Cleanup(defaults.Close)
	assert.GreaterOrEqual(t, defaults.Workers(), 1)
}
