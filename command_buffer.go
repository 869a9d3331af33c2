package ecs

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
)

// CommandBuffer is an append-only log of structural operations recorded while
// systems run and replayed against the World at the step barrier.
//
// Create returns a provisional handle. Later operations recorded against it in
// the same buffer resolve to the real entity when the log is replayed.
// Provisional handles carry the epoch of the buffer that issued them; a handle
// from another buffer, or from an earlier recording of this one, fails with
// ErrStaleHandle instead of resolving.
type CommandBuffer struct {
	commands []command
	tokens   uint32
	epoch    uint32
	remap    []Entity
	// remapEpoch is the epoch the remap table was built for.
	remapEpoch uint32
}

var tokenEpochs atomic.Uint32

func nextTokenEpoch() uint32 {
	for {
		if epoch := tokenEpochs.Add(1) & maxGeneration; epoch != 0 {
			return epoch
		}
	}
}

// NewCommandBuffer creates an empty buffer.
func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

// Len reports how many commands are queued.
func (b *CommandBuffer) Len() int {
	return len(b.commands)
}

// Create records an entity creation and returns its provisional handle.
func (b *CommandBuffer) Create() Entity {
	return b.CreateInto(nil)
}

// CreateInto records an entity creation. When target is non-nil it receives
// the real entity at replay.
func (b *CommandBuffer) CreateInto(target *Entity) Entity {
	if b.tokens == 0 {
		b.epoch = nextTokenEpoch()
	}
	b.tokens++
	token := Entity{index: b.tokens, generation: provisionalBit | b.epoch}
	b.commands = append(b.commands, command{kind: opCreate, entity: token, target: target})
	return token
}

// Destroy records the destruction of e.
func (b *CommandBuffer) Destroy(e Entity) {
	b.commands = append(b.commands, command{kind: opDestroy, entity: e})
}

// Attach records attaching value to e. The component type is the dynamic type
// of value. A later Attach of the same type on the same entity wins.
func (b *CommandBuffer) Attach(e Entity, value any) {
	b.commands = append(b.commands, command{kind: opAttach, entity: e, typ: reflect.TypeOf(value), value: value})
}

// Detach records removing e's component with the given id.
func (b *CommandBuffer) Detach(e Entity, id ComponentID) {
	b.commands = append(b.commands, command{kind: opDetach, entity: e, component: id})
}

// Defer records an arbitrary mutation that runs in order with the other commands.
func (b *CommandBuffer) Defer(fn func(*World) error) {
	if fn == nil {
		return
	}
	b.commands = append(b.commands, command{kind: opDefer, fn: fn})
}

// DeferAttach records attaching a typed component value to e.
func DeferAttach[T any](b *CommandBuffer, e Entity, value T) {
	b.commands = append(b.commands, command{kind: opAttach, entity: e, typ: reflect.TypeFor[T](), value: value})
}

// DeferDetach records removing e's component of type T.
func DeferDetach[T any](b *CommandBuffer, e Entity) {
	b.commands = append(b.commands, command{kind: opDetach, entity: e, typ: reflect.TypeFor[T]()})
}

// Replay applies every recorded command to w in record order and clears the
// buffer. Commands that cannot apply, such as destroying an entity another
// buffer already destroyed, are skipped and reported together in the returned
// error; the remaining commands still apply.
func (b *CommandBuffer) Replay(w *World) (int, error) {
	if err := w.checkStructural(); err != nil {
		return 0, err
	}
	if cap(b.remap) < int(b.tokens) {
		b.remap = make([]Entity, b.tokens)
	}
	b.remap = b.remap[:b.tokens]
	clear(b.remap)
	b.remapEpoch = b.epoch

	var errs error
	applied := 0
	for i := range b.commands {
		cmd := &b.commands[i]
		if err := cmd.apply(w, b); err != nil {
			errs = multierr.Append(errs, eris.Wrapf(err, "command %d (%s)", i, cmd.kind))
			continue
		}
		applied++
	}
	b.clearCommands()
	return applied, errs
}

// Resolve maps a provisional handle to the entity created for it by the last
// Replay. Real handles resolve to themselves.
func (b *CommandBuffer) Resolve(e Entity) (Entity, bool) {
	if !e.Provisional() {
		return e, true
	}
	r, err := b.resolve(e)
	return r, err == nil
}

func (b *CommandBuffer) resolve(e Entity) (Entity, error) {
	if !e.Provisional() {
		return e, nil
	}
	if e.generation&maxGeneration != b.remapEpoch {
		return Nil, eris.Wrapf(ErrStaleHandle, "provisional %v was issued by another buffer", e)
	}
	idx := int(e.index) - 1
	if idx < 0 || idx >= len(b.remap) || b.remap[idx].IsZero() {
		return Nil, eris.Wrapf(ErrStaleHandle, "unresolved provisional %v", e)
	}
	return b.remap[idx], nil
}

// Reset discards all recorded commands and provisional mappings.
func (b *CommandBuffer) Reset() {
	b.clearCommands()
	b.remap = b.remap[:0]
	b.remapEpoch = 0
}

func (b *CommandBuffer) clearCommands() {
	clear(b.commands)
	b.commands = b.commands[:0]
	b.tokens = 0
}

// Snapshot returns the current command count so callers can restore later.
func (b *CommandBuffer) Snapshot() int {
	return len(b.commands)
}

// Restore truncates the command buffer back to the provided snapshot.
func (b *CommandBuffer) Restore(snapshot int) {
	if snapshot < 0 {
		snapshot = 0
	}
	if snapshot >= len(b.commands) {
		return
	}
	clear(b.commands[snapshot:])
	b.commands = b.commands[:snapshot]
}

// CommandBufferPool reuses buffers to reduce allocations.
type CommandBufferPool struct {
	pool sync.Pool
}

// NewCommandBufferPool constructs a pool that returns fresh buffers.
func NewCommandBufferPool() *CommandBufferPool {
	p := &CommandBufferPool{}
	p.pool.New = func() any { return NewCommandBuffer() }
	return p
}

// Get retrieves a buffer from the pool.
func (p *CommandBufferPool) Get() *CommandBuffer {
	return p.pool.Get().(*CommandBuffer)
}

// Put returns a buffer to the pool after clearing it.
func (p *CommandBufferPool) Put(buf *CommandBuffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
