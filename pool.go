package ecs

import (
	"github.com/rotisserie/eris"
)

// erasedPool is the type-erased face of a Pool, used by the World, queries and
// command replay. Each Pool stays monomorphic; erasure happens only here.
type erasedPool interface {
	info() *ComponentInfo
	Len() int
	Has(Entity) bool
	Entities() []Entity
	index(Entity) (int, bool)
	swap(i, j int)
	remove(Entity) error
	addAny(Entity, any) error
	setAny(Entity, any) (bool, error)
	getAny(Entity) (any, bool)
	reserve(n int)
	groups() *poolGroups
}

// poolGroups records the groups that must observe changes to a pool.
type poolGroups struct {
	owner    *group
	watchers []*group
}

// Pool stores all components of one type in a gap-free dense array indexed
// through a paged sparse table.
//
// Entities()[i] owns Values()[i]. Pointers and slices returned by a Pool are
// valid until the next structural change to it.
type Pool[T any] struct {
	sparseSet
	values    []T
	meta      ComponentInfo
	construct func(Entity, *T)
	destroy   func(Entity, *T)
	observers poolGroups
}

func newPool[T any](info ComponentInfo, capacity int) *Pool[T] {
	p := &Pool[T]{meta: info}
	if capacity > 0 {
		p.reserve(capacity)
	}
	return p
}

func (p *Pool[T]) info() *ComponentInfo { return &p.meta }

func (p *Pool[T]) groups() *poolGroups { return &p.observers }

// ID returns the component id served by the pool.
func (p *Pool[T]) ID() ComponentID { return p.meta.ID }

// Len returns the number of stored components.
func (p *Pool[T]) Len() int { return len(p.dense) }

// Cap returns the number of components the pool can hold without growing.
func (p *Pool[T]) Cap() int { return cap(p.values) }

// Has reports whether e owns a component in this pool.
func (p *Pool[T]) Has(e Entity) bool { return p.contains(e) }

// Entities exposes the dense owner array.
func (p *Pool[T]) Entities() []Entity { return p.dense }

// Values exposes the dense value array.
func (p *Pool[T]) Values() []T { return p.values }

// Get returns a pointer to e's component or ErrMissingComponent.
func (p *Pool[T]) Get(e Entity) (*T, error) {
	slot, ok := p.index(e)
	if !ok {
		return nil, eris.Wrapf(ErrMissingComponent, "%s on %v", p.meta.Name, e)
	}
	return &p.values[slot], nil
}

// TryGet returns a pointer to e's component, or false when absent.
func (p *Pool[T]) TryGet(e Entity) (*T, bool) {
	slot, ok := p.index(e)
	if !ok {
		return nil, false
	}
	return &p.values[slot], true
}

// Each visits components in dense order until fn returns false.
func (p *Pool[T]) Each(fn func(Entity, *T) bool) {
	for i := range p.dense {
		if !fn(p.dense[i], &p.values[i]) {
			return
		}
	}
}

func (p *Pool[T]) reserve(n int) {
	p.sparseSet.reserve(n)
	if n > cap(p.values) {
		grown := make([]T, len(p.values), n)
		copy(grown, p.values)
		p.values = grown
	}
}

func (p *Pool[T]) add(e Entity, value T) error {
	if p.contains(e) {
		return eris.Wrapf(ErrDuplicateComponent, "%s on %v", p.meta.Name, e)
	}
	p.push(e)
	p.values = append(p.values, value)
	if p.construct != nil {
		p.construct(e, &p.values[len(p.values)-1])
	}
	return nil
}

// set stores value for e, replacing any existing component. It reports whether
// a new component was added.
func (p *Pool[T]) set(e Entity, value T) bool {
	slot, ok := p.index(e)
	if !ok {
		_ = p.add(e, value)
		return true
	}
	if p.destroy != nil {
		p.destroy(e, &p.values[slot])
	}
	p.values[slot] = value
	if p.construct != nil {
		p.construct(e, &p.values[slot])
	}
	return false
}

func (p *Pool[T]) remove(e Entity) error {
	slot, ok := p.index(e)
	if !ok {
		return eris.Wrapf(ErrMissingComponent, "%s on %v", p.meta.Name, e)
	}
	if p.destroy != nil {
		p.destroy(e, &p.values[slot])
	}
	last := p.popSwap(slot)
	p.values[slot] = p.values[last]
	var zero T
	p.values[last] = zero
	p.values = p.values[:last]
	return nil
}

func (p *Pool[T]) swap(i, j int) {
	if i == j {
		return
	}
	p.swapDense(i, j)
	p.values[i], p.values[j] = p.values[j], p.values[i]
}

func (p *Pool[T]) addAny(e Entity, value any) error {
	v, ok := value.(T)
	if !ok {
		return eris.Wrapf(ErrComponentTypeMismatch, "%s got %T", p.meta.Name, value)
	}
	return p.add(e, v)
}

func (p *Pool[T]) setAny(e Entity, value any) (bool, error) {
	v, ok := value.(T)
	if !ok {
		return false, eris.Wrapf(ErrComponentTypeMismatch, "%s got %T", p.meta.Name, value)
	}
	return p.set(e, v), nil
}

func (p *Pool[T]) getAny(e Entity) (any, bool) {
	v, ok := p.TryGet(e)
	if !ok {
		return nil, false
	}
	return *v, true
}

var _ erasedPool = (*Pool[struct{}])(nil)
