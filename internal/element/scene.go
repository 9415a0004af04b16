package element

// Scene is an ordered collection of elements keyed by id. Tombstones stay in
// the scene so late, older edits cannot bring a removed element back.
// Scene is not safe for concurrent use; callers hold their own lock.
type Scene struct {
	order []string
	byID  map[string]Element
}

// NewScene builds a scene from a snapshot. Duplicate ids fold by precedence.
func NewScene(elements []Element) *Scene {
	s := &Scene{
		order: make([]string, 0, len(elements)),
		byID:  make(map[string]Element, len(elements)),
	}
	for _, el := range elements {
		s.Apply(Change{Kind: Added, Element: el})
	}
	return s
}

// Apply folds a change into the scene. It reports whether the change won,
// which happens only when it is strictly newer than the local element.
func (s *Scene) Apply(ch Change) bool {
	incoming := ch.Element
	if ch.Kind == Removed {
		incoming.IsDeleted = true
	}

	current, exists := s.byID[incoming.ID]
	if exists && !incoming.Newer(current) {
		return false
	}
	if !exists {
		s.order = append(s.order, incoming.ID)
	}
	s.byID[incoming.ID] = incoming.Clone()
	return true
}

// ApplyAll folds a batch and splits it into accepted and rejected changes
func (s *Scene) ApplyAll(changes []Change) (accepted, rejected []Change) {
	for _, ch := range changes {
		if s.Apply(ch) {
			accepted = append(accepted, ch)
		} else {
			rejected = append(rejected, ch)
		}
	}
	return accepted, rejected
}

// Get returns a copy of the element with the given id.
func (s *Scene) Get(id string) (Element, bool) {
	el, ok := s.byID[id]
	if !ok {
		return Element{}, false
	}
	return el.Clone(), true
}

// Contains reports whether the scene knows the id, tombstones included
func (s *Scene) Contains(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Revives reports whether el would win over a tombstone and bring the
// element back
func (s *Scene) Revives(el Element) bool {
	current, ok := s.byID[el.ID]
	return ok && current.IsDeleted && !el.IsDeleted && el.Newer(current)
}

// Elements returns copies of every element, tombstones included, in order.
func (s *Scene) Elements() []Element {
	out := make([]Element, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Live returns copies of the elements that are not deleted.
func (s *Scene) Live() []Element {
	out := make([]Element, 0, len(s.order))
	for _, id := range s.order {
		if el := s.byID[id]; !el.IsDeleted {
			out = append(out, el.Clone())
		}
	}
	return out
}

// Len counts every element, tombstones included.
func (s *Scene) Len() int {
	return len(s.order)
}

// LiveCount counts elements that are not deleted.
func (s *Scene) LiveCount() int {
	n := 0
	for _, el := range s.byID {
		if !el.IsDeleted {
			n++
		}
	}
	return n
}
