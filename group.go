package ecs

// group keeps the pools of its required types partitioned so that the first
// size entries of every owned pool are exactly the matching entities, in the
// same relative order.
type group struct {
	world    *World
	owned    []erasedPool
	excluded componentSet
	exclude  []erasedPool
	size     int
}

func newGroup(w *World, owned, exclude []erasedPool) *group {
	g := &group{world: w, owned: owned, exclude: exclude}
	for _, p := range exclude {
		g.excluded = g.excluded.with(p.info().ID)
	}
	return g
}

// attach claims ownership of the required pools and registers the group as a
// watcher of every pool whose changes can alter membership.
func (g *group) attach() {
	for _, p := range g.owned {
		obs := p.groups()
		obs.owner = g
		obs.watchers = append(obs.watchers, g)
	}
	for _, p := range g.exclude {
		obs := p.groups()
		obs.watchers = append(obs.watchers, g)
	}
}

// build admits every entity that already matches.
func (g *group) build() {
	driver := g.owned[0]
	for _, p := range g.owned[1:] {
		if p.Len() < driver.Len() {
			driver = p
		}
	}
	candidates := append([]Entity(nil), driver.Entities()...)
	for _, e := range candidates {
		g.refresh(e)
	}
}

func (g *group) matches(e Entity) bool {
	for _, p := range g.owned {
		if !p.Has(e) {
			return false
		}
	}
	for _, p := range g.exclude {
		if p.Has(e) {
			return false
		}
	}
	return true
}

func (g *group) contains(e Entity) bool {
	slot, ok := g.owned[0].index(e)
	return ok && slot < g.size
}

func (g *group) refresh(e Entity) {
	in := g.contains(e)
	match := g.matches(e)
	switch {
	case match && !in:
		g.admit(e)
	case !match && in:
		g.evict(e)
	}
}

func (g *group) admit(e Entity) {
	for _, p := range g.owned {
		slot, _ := p.index(e)
		p.swap(slot, g.size)
	}
	g.size++
}

func (g *group) evict(e Entity) {
	if !g.contains(e) {
		return
	}
	g.size--
	for _, p := range g.owned {
		slot, _ := p.index(e)
		p.swap(slot, g.size)
	}
}

func (g *group) entities() []Entity {
	return g.owned[0].Entities()[:g.size]
}
