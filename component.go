package ecs

import (
	"maps"
	"reflect"
	"slices"

	"github.com/rotisserie/eris"
)

// ComponentID identifies a registered component type within one World. Ids are
// assigned sequentially in registration order starting at zero.
type ComponentID uint32

// ComponentInfo describes a registered component type.
type ComponentInfo struct {
	ID    ComponentID
	Name  string
	Type  reflect.Type
	Size  uintptr
	Align uintptr
}

// componentTable is a copy-on-write snapshot of a world's registered
// components. Registration publishes a new table; readers never lock.
type componentTable struct {
	pools  []erasedPool
	byType map[reflect.Type]ComponentID
	byName map[string]ComponentID
}

func (t *componentTable) with(p erasedPool) *componentTable {
	info := p.info()
	next := &componentTable{
		pools:  append(slices.Clip(t.pools), p),
		byType: maps.Clone(t.byType),
		byName: maps.Clone(t.byName),
	}
	next.byType[info.Type] = info.ID
	next.byName[info.Name] = info.ID
	return next
}

// ComponentOption customises component registration.
type ComponentOption func(*componentConfig)

type componentConfig struct {
	name      string
	capacity  int
	construct any
	destroy   any
}

// WithComponentName overrides the registered name. Names key capacity hints
// and ComponentByName lookups.
func WithComponentName(name string) ComponentOption {
	return func(c *componentConfig) {
		c.name = name
	}
}

// WithCapacity pre-sizes the pool for n components, overriding any world hint.
func WithCapacity(n int) ComponentOption {
	return func(c *componentConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithHooks installs construction and destruction callbacks. construct runs
// after a value is stored; destroy runs before a value leaves the pool.
// Either may be nil.
func WithHooks[T any](construct, destroy func(Entity, *T)) ComponentOption {
	return func(c *componentConfig) {
		if construct != nil {
			c.construct = construct
		}
		if destroy != nil {
			c.destroy = destroy
		}
	}
}

// Register adds component type T to the world and creates its pool.
func Register[T any](w *World, opts ...ComponentOption) (ComponentID, error) {
	if err := w.checkStructural(); err != nil {
		return 0, err
	}
	typ := reflect.TypeFor[T]()

	w.typesMu.Lock()
	defer w.typesMu.Unlock()

	table := w.types.Load()
	if _, exists := table.byType[typ]; exists {
		return 0, eris.Wrapf(ErrComponentAlreadyRegistered, "type %s", typ)
	}

	cfg := componentConfig{name: componentName(typ)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, exists := table.byName[cfg.name]; exists {
		return 0, eris.Wrapf(ErrComponentAlreadyRegistered, "name %q", cfg.name)
	}
	if cfg.capacity == 0 {
		cfg.capacity = w.capacityHints[cfg.name]
	}

	info := ComponentInfo{
		ID:    ComponentID(len(table.pools)),
		Name:  cfg.name,
		Type:  typ,
		Size:  typ.Size(),
		Align: uintptr(typ.Align()),
	}
	p := newPool[T](info, cfg.capacity)
	if fn, ok := cfg.construct.(func(Entity, *T)); ok {
		p.construct = fn
	}
	if fn, ok := cfg.destroy.(func(Entity, *T)); ok {
		p.destroy = fn
	}

	w.types.Store(table.with(p))
	w.logger.Debug("component registered",
		zapComponent(info.ID, info.Name),
	)
	return info.ID, nil
}

// ComponentIDOf resolves the id of a registered component type.
func ComponentIDOf[T any](w *World) (ComponentID, bool) {
	return w.idOfType(reflect.TypeFor[T]())
}

// ComponentInfo returns the descriptor for id.
func (w *World) ComponentInfo(id ComponentID) (ComponentInfo, bool) {
	p, err := w.poolByID(id)
	if err != nil {
		return ComponentInfo{}, false
	}
	return *p.info(), true
}

// ComponentByName returns the descriptor registered under name.
func (w *World) ComponentByName(name string) (ComponentInfo, bool) {
	id, ok := w.types.Load().byName[name]
	if !ok {
		return ComponentInfo{}, false
	}
	return w.ComponentInfo(id)
}

// Components lists every registered component in id order.
func (w *World) Components() []ComponentInfo {
	pools := w.types.Load().pools
	out := make([]ComponentInfo, 0, len(pools))
	for _, p := range pools {
		out = append(out, *p.info())
	}
	return out
}

func (w *World) idOfType(typ reflect.Type) (ComponentID, bool) {
	id, ok := w.types.Load().byType[typ]
	return id, ok
}

func (w *World) poolByID(id ComponentID) (erasedPool, error) {
	pools := w.types.Load().pools
	if int(id) >= len(pools) {
		return nil, eris.Wrapf(ErrComponentNotRegistered, "component id %d", id)
	}
	return pools[id], nil
}

func (w *World) poolByType(typ reflect.Type) (erasedPool, error) {
	id, ok := w.idOfType(typ)
	if !ok {
		return nil, eris.Wrapf(ErrComponentNotRegistered, "type %s", typ)
	}
	return w.poolByID(id)
}

// PoolOf returns the typed pool for T. Systems that touch a type on every
// step should resolve the pool once and keep it.
func PoolOf[T any](w *World) (*Pool[T], error) {
	p, err := w.poolByType(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return p.(*Pool[T]), nil
}

func componentName(typ reflect.Type) string {
	if name := typ.Name(); name != "" {
		return name
	}
	return typ.String()
}
