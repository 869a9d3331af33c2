package ecs

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Phase is the step phase a world is currently in.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseSyncing
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseSyncing:
		return "syncing"
	default:
		return "idle"
	}
}

// World owns the entity registry and one pool per registered component type.
// Worlds are independent; nothing in this package is process-global.
type World struct {
	id       uuid.UUID
	registry *EntityRegistry
	logger   *zap.Logger

	// typesMu serialises registration; lookups read the immutable table
	// without locking.
	typesMu       sync.Mutex
	types         atomic.Pointer[componentTable]
	capacityHints map[string]int

	queriesMu sync.Mutex
	queries   map[string]*Query

	resources *Resources
	phase     atomic.Uint32
}

// WorldOption configures a World at construction.
type WorldOption func(*World)

// NewWorld constructs a world with an unbounded registry unless configured.
func NewWorld(opts ...WorldOption) *World {
	w := &World{
		id:            uuid.New(),
		registry:      NewEntityRegistry(0),
		logger:        zap.NewNop(),
		capacityHints: make(map[string]int),
		queries:       make(map[string]*Query),
		resources:     newResources(),
	}
	w.types.Store(&componentTable{
		byType: make(map[reflect.Type]ComponentID),
		byName: make(map[string]ComponentID),
	})
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.Stringer("world_id", w.id))
	return w
}

// WithMaxEntities bounds the number of live entities.
func WithMaxEntities(n int) WorldOption {
	return func(w *World) {
		w.registry = NewEntityRegistry(n)
	}
}

// WithCapacityHint pre-sizes the pool of the component registered under name.
func WithCapacityHint(name string, n int) WorldOption {
	return func(w *World) {
		if n > 0 {
			w.capacityHints[name] = n
		}
	}
}

// WithLogger sets the logger used by the world and its scheduler.
func WithLogger(logger *zap.Logger) WorldOption {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWorldID overrides the generated world identifier.
func WithWorldID(id uuid.UUID) WorldOption {
	return func(w *World) {
		w.id = id
	}
}

// ID returns the world identifier attached to every log line.
func (w *World) ID() uuid.UUID { return w.id }

// Registry exposes the backing entity registry.
func (w *World) Registry() *EntityRegistry { return w.registry }

// Logger returns the world logger.
func (w *World) Logger() *zap.Logger { return w.logger }

// Resources exposes the resource container.
func (w *World) Resources() *Resources { return w.resources }

// Phase reports the current step phase.
func (w *World) Phase() Phase { return Phase(w.phase.Load()) }

func (w *World) setPhase(p Phase) { w.phase.Store(uint32(p)) }

// checkStructural rejects structural mutation while systems are running.
// Running systems record such changes into their CommandBuffer instead.
func (w *World) checkStructural() error {
	if w.Phase() == PhaseRunning {
		return eris.Wrap(ErrSchedulerBusy, "structural change while systems are running")
	}
	return nil
}

// Create allocates a new entity.
func (w *World) Create() (Entity, error) {
	if err := w.checkStructural(); err != nil {
		return Nil, err
	}
	return w.registry.Create()
}

// IsAlive reports whether e refers to a live entity.
func (w *World) IsAlive(e Entity) bool {
	return w.registry.IsAlive(e)
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return w.registry.Count()
}

// Destroy removes e from every pool it occupies and then releases its handle.
func (w *World) Destroy(e Entity) error {
	if err := w.checkStructural(); err != nil {
		return err
	}
	return w.destroy(e)
}

func (w *World) destroy(e Entity) error {
	if !w.registry.IsAlive(e) {
		return eris.Wrapf(ErrStaleHandle, "destroy %v", e)
	}
	for _, p := range w.types.Load().pools {
		if !p.Has(e) {
			continue
		}
		if err := w.detachFrom(p, e); err != nil {
			return err
		}
	}
	if ce := w.logger.Check(zap.DebugLevel, "entity destroyed"); ce != nil {
		ce.Write(zapEntity(e))
	}
	return w.registry.Destroy(e)
}

// Attach adds value as e's component of type T.
func Attach[T any](w *World, e Entity, value T) error {
	if err := w.checkStructural(); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return eris.Wrapf(ErrStaleHandle, "attach to %v", e)
	}
	p, err := PoolOf[T](w)
	if err != nil {
		return err
	}
	if err := p.add(e, value); err != nil {
		return err
	}
	w.afterAttach(p, e)
	return nil
}

// Set attaches value to e, overwriting an existing component of type T.
func Set[T any](w *World, e Entity, value T) error {
	if err := w.checkStructural(); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return eris.Wrapf(ErrStaleHandle, "set on %v", e)
	}
	p, err := PoolOf[T](w)
	if err != nil {
		return err
	}
	if p.set(e, value) {
		w.afterAttach(p, e)
	}
	return nil
}

// Detach removes e's component of type T.
func Detach[T any](w *World, e Entity) error {
	if err := w.checkStructural(); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return eris.Wrapf(ErrStaleHandle, "detach from %v", e)
	}
	p, err := PoolOf[T](w)
	if err != nil {
		return err
	}
	return w.detachFrom(p, e)
}

// Get returns a pointer to e's component of type T.
func Get[T any](w *World, e Entity) (*T, error) {
	if !w.registry.IsAlive(e) {
		return nil, eris.Wrapf(ErrStaleHandle, "get from %v", e)
	}
	p, err := PoolOf[T](w)
	if err != nil {
		return nil, err
	}
	return p.Get(e)
}

// TryGet returns a pointer to e's component of type T, or false when e is
// stale, T is unregistered or the component is absent.
func TryGet[T any](w *World, e Entity) (*T, bool) {
	if !w.registry.IsAlive(e) {
		return nil, false
	}
	p, err := PoolOf[T](w)
	if err != nil {
		return nil, false
	}
	return p.TryGet(e)
}

// Has reports whether e owns a component of type T.
func Has[T any](w *World, e Entity) bool {
	_, ok := TryGet[T](w, e)
	return ok
}

// AttachValue attaches a component whose type is taken from value's dynamic type.
func (w *World) AttachValue(e Entity, value any) error {
	if err := w.checkStructural(); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return eris.Wrapf(ErrStaleHandle, "attach to %v", e)
	}
	p, err := w.poolByType(reflect.TypeOf(value))
	if err != nil {
		return err
	}
	if err := p.addAny(e, value); err != nil {
		return err
	}
	w.afterAttach(p, e)
	return nil
}

// DetachID removes e's component with the given id.
func (w *World) DetachID(e Entity, id ComponentID) error {
	if err := w.checkStructural(); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return eris.Wrapf(ErrStaleHandle, "detach from %v", e)
	}
	p, err := w.poolByID(id)
	if err != nil {
		return err
	}
	return w.detachFrom(p, e)
}

// HasID reports whether e owns the component with the given id.
func (w *World) HasID(e Entity, id ComponentID) bool {
	if !w.registry.IsAlive(e) {
		return false
	}
	p, err := w.poolByID(id)
	if err != nil {
		return false
	}
	return p.Has(e)
}

// ValueOf returns a copy of e's component with the given id.
func (w *World) ValueOf(e Entity, id ComponentID) (any, error) {
	if !w.registry.IsAlive(e) {
		return nil, eris.Wrapf(ErrStaleHandle, "get from %v", e)
	}
	p, err := w.poolByID(id)
	if err != nil {
		return nil, err
	}
	v, ok := p.getAny(e)
	if !ok {
		return nil, eris.Wrapf(ErrMissingComponent, "%s on %v", p.info().Name, e)
	}
	return v, nil
}

// PoolLen returns the number of components stored for id.
func (w *World) PoolLen(id ComponentID) int {
	p, err := w.poolByID(id)
	if err != nil {
		return 0
	}
	return p.Len()
}

// upsert stores value on e, replacing an existing component of the same type.
func (w *World) upsert(e Entity, p erasedPool, value any) error {
	added, err := p.setAny(e, value)
	if err != nil {
		return err
	}
	if added {
		w.afterAttach(p, e)
	}
	return nil
}

func (w *World) detachFrom(p erasedPool, e Entity) error {
	if !p.Has(e) {
		return eris.Wrapf(ErrMissingComponent, "%s on %v", p.info().Name, e)
	}
	g := p.groups()
	if g.owner != nil {
		g.owner.evict(e)
	}
	if err := p.remove(e); err != nil {
		return err
	}
	id := p.info().ID
	for _, watcher := range g.watchers {
		if watcher.excluded.has(id) {
			watcher.refresh(e)
		}
	}
	return nil
}

func (w *World) afterAttach(p erasedPool, e Entity) {
	for _, watcher := range p.groups().watchers {
		watcher.refresh(e)
	}
}

func zapEntity(e Entity) zap.Field {
	return zap.Stringer("entity", e)
}

func zapComponent(id ComponentID, name string) zap.Field {
	return zap.String("component", fmt.Sprintf("%s#%d", name, id))
}
