package ecs

import (
	"reflect"
	"sync"
)

// Resources holds world-wide singletons keyed by their Go type, such as the
// step delta or an input snapshot.
type Resources struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

func newResources() *Resources {
	return &Resources{values: make(map[reflect.Type]any)}
}

// Len returns the number of stored resources.
func (r *Resources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Range visits every resource until fn returns false.
func (r *Resources) Range(fn func(reflect.Type, any) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range r.values {
		if !fn(k, v) {
			return
		}
	}
}

// SetResource stores value as the world's T resource, replacing any previous one.
func SetResource[T any](w *World, value *T) {
	r := w.resources
	r.mu.Lock()
	r.values[reflect.TypeFor[T]()] = value
	r.mu.Unlock()
}

// Resource returns the world's T resource.
func Resource[T any](w *World) (*T, bool) {
	r := w.resources
	r.mu.RLock()
	v, ok := r.values[reflect.TypeFor[T]()]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return v.(*T), true
}

// DeleteResource removes the world's T resource.
func DeleteResource[T any](w *World) {
	r := w.resources
	r.mu.Lock()
	delete(r.values, reflect.TypeFor[T]())
	r.mu.Unlock()
}
