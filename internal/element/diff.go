package element

// Diff compares two snapshots of a scene and returns the changes that turn
// prev into curr. Added and updated changes follow curr order, removals
// follow prev order. A removal carries a tombstone of the previous element
// so receivers rank it above every earlier revision.
func Diff(prev, curr []Element) []Change {
	before := make(map[string]Element, len(prev))
	for _, el := range prev {
		before[el.ID] = el
	}

	changes := make([]Change, 0)
	seen := make(map[string]struct{}, len(curr))
	for _, el := range curr {
		if _, dup := seen[el.ID]; dup {
			continue
		}
		seen[el.ID] = struct{}{}

		old, existed := before[el.ID]
		switch {
		case !existed:
			changes = append(changes, Change{Kind: Added, Element: el.Clone()})
		case !old.SameRevision(el):
			changes = append(changes, Change{Kind: Updated, Element: el.Clone()})
		}
	}

	removed := make(map[string]struct{})
	for _, el := range prev {
		if _, still := seen[el.ID]; still {
			continue
		}
		if _, done := removed[el.ID]; done {
			continue
		}
		removed[el.ID] = struct{}{}
		changes = append(changes, Change{Kind: Removed, Element: el.Tombstone()})
	}

	return changes
}

// Dedupe keeps one change per element id: the one with the highest
// (version, versionNonce). Ties keep the later change. The result is ordered
// by each id's first appearance.
func Dedupe(changes []Change) []Change {
	index := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))

	for _, ch := range changes {
		i, ok := index[ch.Element.ID]
		if !ok {
			index[ch.Element.ID] = len(out)
			out = append(out, ch)
			continue
		}
		if !out[i].Element.Newer(ch.Element) {
			out[i] = ch
		}
	}
	return out
}

// Reconcile merges a full remote element list into a local one. Local order
// is kept, remote elements win only when strictly newer, and unknown remote
// elements are appended in remote order.
func Reconcile(local, remote []Element) []Element {
	scene := NewScene(local)
	for _, el := range remote {
		scene.Apply(Change{Kind: Updated, Element: el})
	}
	return scene.Elements()
}
