package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
)

type opKind uint8

const (
	opCreate opKind = iota
	opDestroy
	opAttach
	opDetach
	opDefer
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opDestroy:
		return "destroy"
	case opAttach:
		return "attach"
	case opDetach:
		return "detach"
	default:
		return "defer"
	}
}

// command is one recorded structural operation. Detach ops carry either a
// component id or a Go type, resolved against the world at replay.
type command struct {
	kind      opKind
	entity    Entity
	component ComponentID
	typ       reflect.Type
	value     any
	target    *Entity
	fn        func(*World) error
}

func (c *command) apply(w *World, b *CommandBuffer) error {
	switch c.kind {
	case opCreate:
		e, err := w.registry.Create()
		if err != nil {
			return eris.Wrapf(err, "replay create %v", c.entity)
		}
		b.remap[c.entity.index-1] = e
		if c.target != nil {
			*c.target = e
		}
		return nil

	case opDestroy:
		e, err := b.resolve(c.entity)
		if err != nil {
			return err
		}
		return w.destroy(e)

	case opAttach:
		e, err := b.resolve(c.entity)
		if err != nil {
			return err
		}
		if !w.registry.IsAlive(e) {
			return eris.Wrapf(ErrStaleHandle, "replay attach to %v", e)
		}
		p, err := c.pool(w)
		if err != nil {
			return err
		}
		return w.upsert(e, p, c.value)

	case opDetach:
		e, err := b.resolve(c.entity)
		if err != nil {
			return err
		}
		if !w.registry.IsAlive(e) {
			return eris.Wrapf(ErrStaleHandle, "replay detach from %v", e)
		}
		p, err := c.pool(w)
		if err != nil {
			return err
		}
		return w.detachFrom(p, e)

	case opDefer:
		return c.fn(w)
	}
	return nil
}

func (c *command) pool(w *World) (erasedPool, error) {
	if c.typ != nil {
		return w.poolByType(c.typ)
	}
	return w.poolByID(c.component)
}
