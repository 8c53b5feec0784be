package cards

import "fmt"

// Order is an ordered list of sibling card IDs. Every method returns a new
// slice and leaves the receiver untouched, so the same computation can run on
// a client for optimistic updates and on the server with identical results.
type Order []string

func (o Order) Index(id string) int {
	for i, existing := range o {
		if existing == id {
			return i
		}
	}
	return -1
}

func (o Order) Contains(id string) bool {
	return o.Index(id) >= 0
}

func (o Order) Equal(other Order) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// Without removes every occurrence of id.
func (o Order) Without(id string) Order {
	out := make(Order, 0, len(o))
	for _, existing := range o {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// InsertAt removes id and splices it in at position, clamped to [0, len].
func (o Order) InsertAt(id string, position int) Order {
	base := o.Without(id)
	if position < 0 {
		position = 0
	}
	if position > len(base) {
		position = len(base)
	}
	out := make(Order, 0, len(base)+1)
	out = append(out, base[:position]...)
	out = append(out, id)
	out = append(out, base[position:]...)
	return out
}

// InsertBefore places id immediately before anchor, or at the head when
// anchor is not in the list.
func (o Order) InsertBefore(id, anchor string) Order {
	base := o.Without(id)
	idx := base.Index(anchor)
	if idx < 0 {
		idx = 0
	}
	return base.InsertAt(id, idx)
}

// InsertAfter places id immediately after anchor, or at the tail when anchor
// is not in the list.
func (o Order) InsertAfter(id, anchor string) Order {
	base := o.Without(id)
	idx := base.Index(anchor)
	if idx < 0 {
		idx = len(base)
	} else {
		idx++
	}
	return base.InsertAt(id, idx)
}

// Placement describes where a card goes among its siblings. Exactly one
// field must be set.
type Placement struct {
	Position *int    `json:"position,omitempty"`
	Before   *string `json:"before,omitempty"`
	After    *string `json:"after,omitempty"`
}

func AtPosition(position int) Placement {
	return Placement{Position: &position}
}

func BeforeID(anchor string) Placement {
	return Placement{Before: &anchor}
}

func AfterID(anchor string) Placement {
	return Placement{After: &anchor}
}

func (p Placement) IsZero() bool {
	return p.Position == nil && p.Before == nil && p.After == nil
}

func (p Placement) Validate() error {
	set := 0
	if p.Position != nil {
		set++
	}
	if p.Before != nil {
		set++
	}
	if p.After != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: got %d fields", ErrBadPlacement, set)
	}
	return nil
}

// ComputeReorder returns the order that results from moving id to the
// requested placement within current.
func ComputeReorder(id string, placement Placement, current Order) (Order, error) {
	if err := placement.Validate(); err != nil {
		return nil, err
	}
	switch {
	case placement.Position != nil:
		return current.InsertAt(id, *placement.Position), nil
	case placement.Before != nil:
		if *placement.Before == id {
			return nil, fmt.Errorf("%w: card cannot be placed relative to itself", ErrBadPlacement)
		}
		return current.InsertBefore(id, *placement.Before), nil
	default:
		if *placement.After == id {
			return nil, fmt.Errorf("%w: card cannot be placed relative to itself", ErrBadPlacement)
		}
		return current.InsertAfter(id, *placement.After), nil
	}
}

// reconcile makes an order list agree with the actual set of children: IDs
// that are not children are dropped, duplicates keep their first occurrence,
// and children missing from the list are appended in the given order. Only
// the write path calls this.
func reconcile(order Order, children []string) Order {
	actual := make(map[string]struct{}, len(children))
	for _, id := range children {
		actual[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(order))
	out := make(Order, 0, len(children))
	for _, id := range order {
		if _, ok := actual[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range children {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
