package relay

import (
	"errors"
	"fmt"
	"sort"
)

// Relay binds a relay ID to a GPIO line number.
type Relay struct {
	ID   int
	Line int
}

// Layout is the set of relays on a board.
type Layout []Relay

// DefaultLayout is the Rock Pi E relay HAT wiring: relays 1-4 on lines 60, 27, 85, 86.
func DefaultLayout() Layout {
	return Layout{
		{ID: 1, Line: 60},
		{ID: 2, Line: 27},
		{ID: 3, Line: 85},
		{ID: 4, Line: 86},
	}
}

// Validate checks IDs are positive and unique and lines are non-negative and unique.
func (l Layout) Validate() error {
	if len(l) == 0 {
		return errors.New("layout has no relays")
	}
	ids := make(map[int]bool, len(l))
	lines := make(map[int]bool, len(l))
	for _, r := range l {
		if r.ID <= 0 {
			return fmt.Errorf("relay id %d must be positive", r.ID)
		}
		if r.Line < 0 {
			return fmt.Errorf("relay %d: line %d must not be negative", r.ID, r.Line)
		}
		if ids[r.ID] {
			return fmt.Errorf("duplicate relay id %d", r.ID)
		}
		if lines[r.Line] {
			return fmt.Errorf("relay %d: line %d already used", r.ID, r.Line)
		}
		ids[r.ID] = true
		lines[r.Line] = true
	}
	return nil
}

// Has reports whether id is part of the layout.
func (l Layout) Has(id int) bool {
	_, ok := l.index(id)
	return ok
}

// IDs returns the relay IDs in ascending order.
func (l Layout) IDs() []int {
	ids := make([]int, len(l))
	for i, r := range l {
		ids[i] = r.ID
	}
	sort.Ints(ids)
	return ids
}

// sorted returns a copy ordered by ascending relay ID.
func (l Layout) sorted() Layout {
	out := make(Layout, len(l))
	copy(out, l)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l Layout) index(id int) (int, bool) {
	for i, r := range l {
		if r.ID == id {
			return i, true
		}
	}
	return 0, false
}
