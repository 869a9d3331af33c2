package ecs

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Entity identifies an entity and encodes a generation for stale-handle detection.
//
// Live generations run from one to maxGeneration. Zero marks a retired index.
// Generations with the high bit set are provisional handles issued by a
// CommandBuffer before replay; the remaining bits stamp the issuing buffer.
type Entity struct {
	index      uint32
	generation uint32
}

// Nil is the zero entity. It is never alive.
var Nil Entity

// Index returns the backing index of the entity.
func (e Entity) Index() uint32 {
	return e.index
}

// Generation returns the generation counter associated with the entity.
func (e Entity) Generation() uint32 {
	return e.generation
}

// IsZero reports whether the identifier is the zero value.
func (e Entity) IsZero() bool {
	return e.index == 0 && e.generation == 0
}

// Provisional reports whether the handle was issued by a CommandBuffer and has
// not been remapped to a real entity.
func (e Entity) Provisional() bool {
	return e.generation&provisionalBit != 0
}

// String renders the entity identifier for debugging purposes.
func (e Entity) String() string {
	if e.Provisional() {
		return fmt.Sprintf("Entity(~%d@%d)", e.index, e.generation&maxGeneration)
	}
	return fmt.Sprintf("Entity(%d:%d)", e.index, e.generation)
}

// EntityFromParts constructs an identifier from raw components.
func EntityFromParts(index, generation uint32) Entity {
	return Entity{index: index, generation: generation}
}

const (
	firstGeneration uint32 = 1
	provisionalBit  uint32 = 1 << 31
	maxGeneration          = provisionalBit - 1
)

// NewEntityRegistry constructs an empty registry. A maxLive of zero or less
// means the registry is unbounded.
func NewEntityRegistry(maxLive int) *EntityRegistry {
	r := &EntityRegistry{}
	if maxLive > 0 {
		r.maxLive = uint32(maxLive)
		r.generations = make([]uint32, 0, maxLive)
		r.free = make([]uint32, 0, maxLive)
	}
	return r
}

// EntityRegistry coordinates entity allocation and recycling.
//
// Freed indices are recycled first-in first-out so a destroyed index rests as
// long as possible before it is handed out again. The registry is not safe for
// concurrent mutation; structural changes happen outside the Running phase.
type EntityRegistry struct {
	generations []uint32
	free        []uint32
	freeHead    int
	alive       uint32
	maxLive     uint32
}

// Create issues a new entity identifier, recycling slots when possible.
func (r *EntityRegistry) Create() (Entity, error) {
	if r.maxLive > 0 && r.alive >= r.maxLive {
		return Nil, eris.Wrapf(ErrExhausted, "live entity limit %d reached", r.maxLive)
	}

	var index uint32
	if r.freeHead < len(r.free) {
		index = r.free[r.freeHead]
		r.freeHead++
		r.compactFree()
	} else {
		index = uint32(len(r.generations))
		r.generations = append(r.generations, firstGeneration)
	}

	r.alive++
	return Entity{index: index, generation: r.generations[index]}, nil
}

// Destroy releases the entity identifier. Stale handles fail with ErrStaleHandle.
func (r *EntityRegistry) Destroy(e Entity) error {
	if !r.IsAlive(e) {
		return eris.Wrapf(ErrStaleHandle, "destroy %v", e)
	}

	r.alive--
	next := r.generations[e.index] + 1
	if next > maxGeneration {
		// Saturated indices are retired rather than wrapped.
		r.generations[e.index] = 0
		return nil
	}
	r.generations[e.index] = next
	r.free = append(r.free, e.index)
	return nil
}

// IsAlive reports whether the identifier refers to a currently allocated entity.
func (r *EntityRegistry) IsAlive(e Entity) bool {
	if e.generation == 0 || e.generation > maxGeneration {
		return false
	}
	if e.index >= uint32(len(r.generations)) {
		return false
	}
	return r.generations[e.index] == e.generation
}

// Count returns the number of live entities.
func (r *EntityRegistry) Count() int {
	return int(r.alive)
}

// Capacity returns the configured live limit, or zero when unbounded.
func (r *EntityRegistry) Capacity() int {
	return int(r.maxLive)
}

// Remaining reports how many more entities may be created. Unbounded
// registries report -1.
func (r *EntityRegistry) Remaining() int {
	if r.maxLive == 0 {
		return -1
	}
	return int(r.maxLive - r.alive)
}

// Span returns the number of indices ever issued, which bounds sparse storage.
func (r *EntityRegistry) Span() int {
	return len(r.generations)
}

// compactFree drops the consumed prefix of the free queue once it dominates
// the backing array.
func (r *EntityRegistry) compactFree() {
	if r.freeHead == len(r.free) {
		r.free = r.free[:0]
		r.freeHead = 0
		return
	}
	if r.freeHead < 64 || r.freeHead*2 < len(r.free) {
		return
	}
	n := copy(r.free, r.free[r.freeHead:])
	r.free = r.free[:n]
	r.freeHead = 0
}
