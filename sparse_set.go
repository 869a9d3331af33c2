package ecs

const (
	sparsePageBits = 10
	sparsePageSize = 1 << sparsePageBits
	sparsePageMask = sparsePageSize - 1

	// tombstone marks a sparse slot with no dense entry.
	tombstone = ^uint32(0)
)

// sparseSet maps entity indices to positions in a packed entity array.
//
// The sparse side is paged so an index range that never held the component
// costs one nil page pointer per 1024 indices instead of a full table.
type sparseSet struct {
	pages [][]uint32
	dense []Entity
}

func (s *sparseSet) reserve(n int) {
	if n > cap(s.dense) {
		grown := make([]Entity, len(s.dense), n)
		copy(grown, s.dense)
		s.dense = grown
	}
}

// index returns the dense position of e. The stored entity must match the
// handle exactly, so a recycled index with an older generation misses.
func (s *sparseSet) index(e Entity) (int, bool) {
	page := int(e.index >> sparsePageBits)
	if page >= len(s.pages) || s.pages[page] == nil {
		return 0, false
	}
	slot := s.pages[page][e.index&sparsePageMask]
	if slot == tombstone || int(slot) >= len(s.dense) || s.dense[slot] != e {
		return 0, false
	}
	return int(slot), true
}

func (s *sparseSet) contains(e Entity) bool {
	_, ok := s.index(e)
	return ok
}

func (s *sparseSet) setSparse(index uint32, slot uint32) {
	page := int(index >> sparsePageBits)
	if page >= len(s.pages) {
		grown := make([][]uint32, page+1)
		copy(grown, s.pages)
		s.pages = grown
	}
	if s.pages[page] == nil {
		p := make([]uint32, sparsePageSize)
		for i := range p {
			p[i] = tombstone
		}
		s.pages[page] = p
	}
	s.pages[page][index&sparsePageMask] = slot
}

// push appends e and returns its dense position.
func (s *sparseSet) push(e Entity) int {
	slot := len(s.dense)
	s.dense = append(s.dense, e)
	s.setSparse(e.index, uint32(slot))
	return slot
}

// swapDense exchanges two dense positions and patches both sparse entries.
func (s *sparseSet) swapDense(i, j int) {
	if i == j {
		return
	}
	a, b := s.dense[i], s.dense[j]
	s.dense[i], s.dense[j] = b, a
	s.setSparse(a.index, uint32(j))
	s.setSparse(b.index, uint32(i))
}

// popSwap removes the entry at slot by moving the last entry into it. It
// returns the position that was vacated at the tail.
func (s *sparseSet) popSwap(slot int) int {
	last := len(s.dense) - 1
	removed := s.dense[slot]
	if slot != last {
		moved := s.dense[last]
		s.dense[slot] = moved
		s.setSparse(moved.index, uint32(slot))
	}
	s.setSparse(removed.index, tombstone)
	s.dense[last] = Nil
	s.dense = s.dense[:last]
	return last
}
