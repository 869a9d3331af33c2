package ecs

import (
	"context"
	"iter"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// Filter declares a query signature.
type Filter struct {
	Required []ComponentID
	Excluded []ComponentID
	// Hot queries are iterated every step and are backed by an owning group.
	Hot bool
}

// Query is a cached view over the entities that own every required component
// and none of the excluded ones. Handles are reused: asking the world for the
// same filter twice returns the same Query.
type Query struct {
	world    *World
	key      string
	required []ComponentID
	excluded []ComponentID
	// Pools are resolved once; they are never unregistered.
	requiredPools []erasedPool
	excludedPools []erasedPool
	group         *group
}

// Query resolves f into a cached handle. Hot filters register an owning group
// and fail with ErrConflictingGroup when a required pool is already owned.
func (w *World) Query(f Filter) (*Query, error) {
	required, excluded, err := normalizeFilter(f)
	if err != nil {
		return nil, err
	}
	key := queryKey(required, excluded, f.Hot)

	w.queriesMu.Lock()
	defer w.queriesMu.Unlock()
	if q, ok := w.queries[key]; ok {
		return q, nil
	}

	owned := make([]erasedPool, 0, len(required))
	for _, id := range required {
		p, err := w.poolByID(id)
		if err != nil {
			return nil, err
		}
		owned = append(owned, p)
	}
	exclude := make([]erasedPool, 0, len(excluded))
	for _, id := range excluded {
		p, err := w.poolByID(id)
		if err != nil {
			return nil, err
		}
		exclude = append(exclude, p)
	}

	q := &Query{
		world:         w,
		key:           key,
		required:      required,
		excluded:      excluded,
		requiredPools: owned,
		excludedPools: exclude,
	}
	if f.Hot {
		if err := w.checkStructural(); err != nil {
			return nil, err
		}
		for _, p := range owned {
			if p.groups().owner != nil {
				return nil, eris.Wrapf(ErrConflictingGroup, "%s", p.info().Name)
			}
		}
		g := newGroup(w, owned, exclude)
		g.attach()
		g.build()
		q.group = g
		w.logger.Debug("owning group registered")
	}
	w.queries[key] = q
	return q, nil
}

func normalizeFilter(f Filter) ([]ComponentID, []ComponentID, error) {
	if len(f.Required) == 0 {
		return nil, nil, eris.Wrap(ErrInvalidQuery, "at least one required component")
	}
	required := slices.Clone(f.Required)
	slices.Sort(required)
	required = slices.Compact(required)
	excluded := slices.Clone(f.Excluded)
	slices.Sort(excluded)
	excluded = slices.Compact(excluded)
	for _, id := range excluded {
		if _, found := slices.BinarySearch(required, id); found {
			return nil, nil, eris.Wrapf(ErrInvalidQuery, "component %d both required and excluded", id)
		}
	}
	return required, excluded, nil
}

func queryKey(required, excluded []ComponentID, hot bool) string {
	var b strings.Builder
	b.WriteString("r")
	for _, id := range required {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	b.WriteString("|x")
	for _, id := range excluded {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	if hot {
		b.WriteString("|hot")
	}
	return b.String()
}

// Required returns the sorted required component ids.
func (q *Query) Required() []ComponentID { return slices.Clone(q.required) }

// Excluded returns the sorted excluded component ids.
func (q *Query) Excluded() []ComponentID { return slices.Clone(q.excluded) }

// Hot reports whether the query is backed by an owning group.
func (q *Query) Hot() bool { return q.group != nil }

// Len returns the number of matching entities. Hot queries answer in O(1);
// cold queries count by iterating.
func (q *Query) Len() int {
	if q.group != nil {
		return q.group.size
	}
	n := 0
	q.each(func(Entity) bool {
		n++
		return true
	})
	return n
}

// Contains reports whether e currently matches the query.
func (q *Query) Contains(e Entity) bool {
	if !q.world.registry.IsAlive(e) {
		return false
	}
	if q.group != nil {
		return q.group.contains(e)
	}
	return q.matches(e, nil)
}

// Each visits matching entities until fn returns false.
func (q *Query) Each(fn func(Entity) bool) {
	q.each(fn)
}

// All returns a restartable sequence over the matching entities.
func (q *Query) All() iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		q.each(yield)
	}
}

// Entities returns the matching entities. For hot queries the slice aliases the
// group's dense prefix and must not be modified; cold queries return a copy.
func (q *Query) Entities() []Entity {
	if q.group != nil {
		return q.group.entities()
	}
	var out []Entity
	q.each(func(e Entity) bool {
		out = append(out, e)
		return true
	})
	return out
}

// ParallelFor splits the group range [0, Len()) into chunks and runs fn on
// them concurrently. Index i addresses Entities()[i] and GroupSlice values[i]
// for every owned type. Only hot queries are indexable.
func (q *Query) ParallelFor(ctx context.Context, chunk int, fn func(ctx context.Context, lo, hi int) error) error {
	if q.group == nil {
		return eris.Wrap(ErrInvalidQuery, "parallel iteration requires a hot query")
	}
	n := q.group.size
	if chunk <= 0 {
		chunk = max(1, n/runtime.GOMAXPROCS(0))
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, lo, hi)
		})
	}
	return g.Wait()
}

func (q *Query) each(fn func(Entity) bool) {
	if q.group != nil {
		for _, e := range q.group.entities() {
			if !fn(e) {
				return
			}
		}
		return
	}
	driver := q.driver()
	dense := driver.Entities()
	// Walk backwards so detaching the current entity outside a step does not
	// skip its successor.
	for i := len(dense) - 1; i >= 0; i-- {
		if i >= len(dense) {
			continue
		}
		e := dense[i]
		if !q.matches(e, driver) {
			continue
		}
		if !fn(e) {
			return
		}
		dense = driver.Entities()
	}
}

// driver picks the smallest required pool.
func (q *Query) driver() erasedPool {
	best := q.requiredPools[0]
	for _, p := range q.requiredPools[1:] {
		if p.Len() < best.Len() {
			best = p
		}
	}
	return best
}

func (q *Query) matches(e Entity, skip erasedPool) bool {
	for _, p := range q.requiredPools {
		if p != skip && !p.Has(e) {
			return false
		}
	}
	for _, p := range q.excludedPools {
		if p.Has(e) {
			return false
		}
	}
	return true
}

func (q *Query) requires(typ reflect.Type) (ComponentID, error) {
	id, ok := q.world.idOfType(typ)
	if !ok {
		return 0, eris.Wrapf(ErrComponentNotRegistered, "type %s", typ)
	}
	if _, found := slices.BinarySearch(q.required, id); !found {
		return 0, eris.Wrapf(ErrInvalidQuery, "%s is not required by the query", typ)
	}
	return id, nil
}

func typedPool[T any](q *Query) (*Pool[T], error) {
	id, err := q.requires(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	i, _ := slices.BinarySearch(q.required, id)
	return q.requiredPools[i].(*Pool[T]), nil
}

// GroupSlice returns the dense values of T that belong to a hot query's group.
// values[i] belongs to Entities()[i].
func GroupSlice[T any](q *Query) ([]T, error) {
	if q.group == nil {
		return nil, eris.Wrap(ErrInvalidQuery, "group slices require a hot query")
	}
	p, err := typedPool[T](q)
	if err != nil {
		return nil, err
	}
	return p.values[:q.group.size], nil
}

// Each1 visits matching entities together with their A component.
func Each1[A any](q *Query, fn func(Entity, *A)) error {
	pa, err := typedPool[A](q)
	if err != nil {
		return err
	}
	if q.group != nil {
		for i, e := range q.group.entities() {
			fn(e, &pa.values[i])
		}
		return nil
	}
	q.each(func(e Entity) bool {
		a, _ := pa.TryGet(e)
		fn(e, a)
		return true
	})
	return nil
}

// Each2 visits matching entities together with their A and B components.
func Each2[A, B any](q *Query, fn func(Entity, *A, *B)) error {
	pa, err := typedPool[A](q)
	if err != nil {
		return err
	}
	pb, err := typedPool[B](q)
	if err != nil {
		return err
	}
	if q.group != nil {
		for i, e := range q.group.entities() {
			fn(e, &pa.values[i], &pb.values[i])
		}
		return nil
	}
	q.each(func(e Entity) bool {
		a, _ := pa.TryGet(e)
		b, _ := pb.TryGet(e)
		fn(e, a, b)
		return true
	})
	return nil
}

// Each3 visits matching entities together with their A, B and C components.
func Each3[A, B, C any](q *Query, fn func(Entity, *A, *B, *C)) error {
	pa, err := typedPool[A](q)
	if err != nil {
		return err
	}
	pb, err := typedPool[B](q)
	if err != nil {
		return err
	}
	pc, err := typedPool[C](q)
	if err != nil {
		return err
	}
	if q.group != nil {
		for i, e := range q.group.entities() {
			fn(e, &pa.values[i], &pb.values[i], &pc.values[i])
		}
		return nil
	}
	q.each(func(e Entity) bool {
		a, _ := pa.TryGet(e)
		b, _ := pb.TryGet(e)
		c, _ := pc.TryGet(e)
		fn(e, a, b, c)
		return true
	})
	return nil
}
