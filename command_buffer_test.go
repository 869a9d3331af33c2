package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	ecs "github.com/DangerosoDavo/lynx"
)

func TestCommandBufferLastWriteWins(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t)

	buf := ecs.NewCommandBuffer()
	buf.Attach(e, Health{HP: 1})
	buf.Attach(e, Health{HP: 2})
	applied, err := buf.Replay(f.world)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	h, err := ecs.Get[Health](f.world, e)
	require.NoError(t, err)
	assert.Equal(t, 2, h.HP)
	assert.Equal(t, 0, buf.Len(), "replay clears the buffer")
}

func TestCommandBufferProvisionalCreate(t *testing.T) {
	f := newFixture(t)
	buf := ecs.NewCommandBuffer()

	var real ecs.Entity
	token := buf.CreateInto(&real)
	assert.True(t, token.Provisional())
	assert.False(t, f.world.IsAlive(token))
	ecs.DeferAttach(buf, token, Position{X: 4})
	buf.Attach(token, Velocity{DX: 1})
	other := buf.Create()
	buf.Attach(other, Health{HP: 9})
	buf.Destroy(other)

	_, err := buf.Replay(f.world)
	require.NoError(t, err)

	require.True(t, f.world.IsAlive(real))
	resolved, ok := buf.Resolve(token)
	require.True(t, ok)
	assert.Equal(t, real, resolved)

	p, err := ecs.Get[Position](f.world, real)
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.X)
	assert.True(t, ecs.Has[Velocity](f.world, real))

	gone, ok := buf.Resolve(other)
	require.True(t, ok)
	assert.False(t, f.world.IsAlive(gone))
	assert.Equal(t, 1, f.world.Len())
	assert.Equal(t, 0, f.world.PoolLen(f.health))
}

func TestCommandBufferAppliesInRecordOrder(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, Position{})
	buf := ecs.NewCommandBuffer()
	buf.Detach(e, f.position)
	ecs.DeferAttach(buf, e, Position{X: 7})
	ecs.DeferDetach[Velocity](buf, e)

	var order []string
	buf.Defer(func(w *ecs.World) error {
		p, err := ecs.Get[Position](w, e)
		if err == nil {
			order = append(order, "position present")
			assert.Equal(t, 7.0, p.X)
		}
		return nil
	})

	applied, err := buf.Replay(f.world)
	require.Error(t, err, "detaching an absent velocity is reported")
	assert.ErrorIs(t, err, ecs.ErrMissingComponent)
	assert.Equal(t, 3, applied)
	assert.Equal(t, []string{"position present"}, order)
}

func TestCommandBufferReplayCollectsErrors(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t)
	first := ecs.NewCommandBuffer()
	second := ecs.NewCommandBuffer()
	first.Destroy(e)
	second.Destroy(e)
	second.Attach(e, Health{})
	survivor := second.Create()
	second.Attach(survivor, Health{HP: 1})

	_, err := first.Replay(f.world)
	require.NoError(t, err)
	applied, err := second.Replay(f.world)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, ecs.ErrStaleHandle)
	assert.Equal(t, 2, applied, "well-formed operations still apply")
	assert.Equal(t, 1, f.world.PoolLen(f.health))
}

func TestCommandBufferUnregisteredType(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t)
	type unknown struct{}
	buf := ecs.NewCommandBuffer()
	buf.Attach(e, unknown{})
	_, err := buf.Replay(f.world)
	assert.ErrorIs(t, err, ecs.ErrComponentNotRegistered)
}

func TestCommandBufferSnapshotRestore(t *testing.T) {
	buf := ecs.NewCommandBuffer()
	buf.Destroy(ecs.EntityFromParts(1, 1))
	snap := buf.Snapshot()
	buf.Destroy(ecs.EntityFromParts(2, 1))
	buf.Destroy(ecs.EntityFromParts(3, 1))
	require.Equal(t, 3, buf.Len())

	buf.Restore(snap)
	assert.Equal(t, 1, buf.Len())
	buf.Restore(-1)
	assert.Equal(t, 0, buf.Len())
}

func TestCommandBufferPoolReuses(t *testing.T) {
	pool := ecs.NewCommandBufferPool()
	buf := pool.Get()
	buf.Create()
	pool.Put(buf)

	again := pool.Get()
	assert.Equal(t, 0, again.Len())
	pool.Put(nil)
}

func TestCommandBufferRejectsForeignTokens(t *testing.T) {
	f := newFixture(t)
	issuer := ecs.NewCommandBuffer()
	other := ecs.NewCommandBuffer()

	foreign := issuer.Create()
	own := other.Create()
	require.Equal(t, foreign.Index(), own.Index(), "both buffers number their tokens from one")
	other.Attach(foreign, Health{HP: 1})
	other.Attach(own, Health{HP: 2})

	applied, err := other.Replay(f.world)
	assert.ErrorIs(t, err, ecs.ErrStaleHandle)
	assert.Equal(t, 2, applied)
	_, ok := other.Resolve(foreign)
	assert.False(t, ok)

	real, ok := other.Resolve(own)
	require.True(t, ok)
	h, err := ecs.Get[Health](f.world, real)
	require.NoError(t, err)
	assert.Equal(t, 2, h.HP)
	assert.Equal(t, 1, f.world.PoolLen(f.health))
}

func TestCommandBufferTokensExpireWithNextRecording(t *testing.T) {
	f := newFixture(t)
	pool := ecs.NewCommandBufferPool()

	buf := pool.Get()
	old := buf.Create()
	_, err := buf.Replay(f.world)
	require.NoError(t, err)
	pool.Put(buf)

	reused := pool.Get()
	fresh := reused.Create()
	reused.Attach(old, Position{})
	reused.Attach(fresh, Velocity{})
	_, err = reused.Replay(f.world)
	assert.ErrorIs(t, err, ecs.ErrStaleHandle)
	assert.Equal(t, 0, f.world.PoolLen(f.position), "a token from an earlier recording never aliases a new entity")
	assert.Equal(t, 1, f.world.PoolLen(f.velocity))
	assert.False(t, f.world.IsAlive(old))
}

func TestCommandBufferCreateExhaustedAtReplay(t *testing.T) {
	f := newFixture(t, ecs.WithMaxEntities(1))
	f.spawn(t)

	buf := ecs.NewCommandBuffer()
	token := buf.Create()
	buf.Attach(token, Position{})
	buf.Destroy(token)

	applied, err := buf.Replay(f.world)
	require.Error(t, err)
	assert.Equal(t, 0, applied)
	assert.ErrorIs(t, err, ecs.ErrExhausted)
	assert.ErrorIs(t, err, ecs.ErrStaleHandle, "ops on the unresolved token are reported")
	assert.Len(t, multierr.Errors(err), 3)
	_, ok := buf.Resolve(token)
	assert.False(t, ok)
	assert.Equal(t, 1, f.world.Len())
	assert.Equal(t, 0, f.world.PoolLen(f.position))
}
