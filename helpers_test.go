package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/lynx"
)

type Position struct {
	X, Y float64
}

type Velocity struct {
	DX, DY float64
}

type Health struct {
	HP int
}

type Frozen struct{}

type fixture struct {
	world    *ecs.World
	position ecs.ComponentID
	velocity ecs.ComponentID
	health   ecs.ComponentID
	frozen   ecs.ComponentID
}

func newFixture(t *testing.T, opts ...ecs.WorldOption) *fixture {
	t.Helper()
	f := &fixture{world: ecs.NewWorld(opts...)}
	var err error
	f.position, err = ecs.Register[Position](f.world)
	require.NoError(t, err)
	f.velocity, err = ecs.Register[Velocity](f.world)
	require.NoError(t, err)
	f.health, err = ecs.Register[Health](f.world)
	require.NoError(t, err)
	f.frozen, err = ecs.Register[Frozen](f.world)
	require.NoError(t, err)
	return f
}

func (f *fixture) spawn(t *testing.T, values ...any) ecs.Entity {
	t.Helper()
	e, err := f.world.Create()
	require.NoError(t, err)
	for _, v := range values {
		require.NoError(t, f.world.AttachValue(e, v))
	}
	return e
}

func ids(list ...ecs.ComponentID) []ecs.ComponentID { return list }
