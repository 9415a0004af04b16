package element

// Element is a single drawable object on a board. Data holds the shape
// geometry and style and is never inspected by the merge logic.
type Element struct {
	ID           string                 `json:"id" validate:"required,max=128,elementid"`
	Type         string                 `json:"type" validate:"required"`
	Version      int64                  `json:"version" validate:"min=0"`
	VersionNonce int64                  `json:"versionNonce"`
	IsDeleted    bool                   `json:"isDeleted,omitempty"`
	Data         map[string]interface{} `json:"data"`
}

// ChangeKind describes how an element differs between two snapshots
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Updated ChangeKind = "updated"
	Removed ChangeKind = "removed"
)

// Change is one diff record, produced locally and folded in remotely
type Change struct {
	Kind    ChangeKind `json:"kind" validate:"required,oneof=added updated removed"`
	Element Element    `json:"element"`
}

// Newer reports whether e takes precedence over other.
func (e Element) Newer(other Element) bool {
	if e.Version != other.Version {
		return e.Version > other.Version
	}
	return e.VersionNonce > other.VersionNonce
}

// SameRevision reports whether both elements carry the same (version, versionNonce)
func (e Element) SameRevision(other Element) bool {
	return e.Version == other.Version && e.VersionNonce == other.VersionNonce
}

// Tombstone returns a deleted copy of e that outranks it.
func (e Element) Tombstone() Element {
	t := e.Clone()
	t.Version++
	t.IsDeleted = true
	return t
}

// Clone copies the element, including a deep copy of its payload.
func (e Element) Clone() Element {
	c := e
	c.Data = cloneMap(e.Data)
	return c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
