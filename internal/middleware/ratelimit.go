package middleware

import (
	"fmt"
)

// ElementCounter counts live elements (avoids import cycle with room)
type ElementCounter interface {
	ElementCount() int
}

// Limits: capacity and message limits enforced per room and connection
type Limits struct {
	MaxRoomSize       int
	MaxElements       int
	MaxMessageSize    int
	MaxRooms          int
	MaxObjectDepth    int
	MaxObjectElements int
	MaxBatchSize      int
	MessagesPerSecond float64
	BurstSize         int
	CursorPerSecond   float64
	CursorBurst       int
}

// CanAddElements: checks if a room has space for n more elements
func (l *Limits) CanAddElements(counter ElementCounter, n int) bool {
	if n <= 0 {
		return true
	}
	return counter.ElementCount()+n <= l.MaxElements
}

// ReadLimit: largest frame a connection may read, 0 for no limit
func (l *Limits) ReadLimit() int64 {
	if l.MaxMessageSize <= 0 {
		return 0
	}
	return int64(l.MaxMessageSize)
}

// ValidateBatchSize: checks the number of changes in one message
func (l *Limits) ValidateBatchSize(n int) error {
	if l.MaxBatchSize > 0 && n > l.MaxBatchSize {
		return fmt.Errorf("too many changes in one message: %d (max %d)", n, l.MaxBatchSize)
	}
	return nil
}

// ValidateObjectComplexity: validates element payload complexity
// Checks nesting depth and unique key count (not array lengths)
func (l *Limits) ValidateObjectComplexity(data map[string]interface{}) error {
	depth, keys := validateComplexity(data, 0)

	if depth > l.MaxObjectDepth {
		return fmt.Errorf("object nesting too deep: %d levels (max %d)", depth, l.MaxObjectDepth)
	}

	if keys > l.MaxObjectElements {
		return fmt.Errorf("object too complex: %d keys (max %d)", keys, l.MaxObjectElements)
	}

	return nil
}

// validateComplexity: recursively checks depth and counts unique keys
func validateComplexity(data interface{}, currentDepth int) (int, int) {
	maxDepth := currentDepth
	keyCount := 0

	switch v := data.(type) {
	case map[string]interface{}:
		keyCount = len(v)
		for _, val := range v {
			subDepth, subKeys := validateComplexity(val, currentDepth+1)
			if subDepth > maxDepth {
				maxDepth = subDepth
			}
			keyCount += subKeys
		}
	case []interface{}:
		// Don't count array length
		for _, val := range v {
			subDepth, subKeys := validateComplexity(val, currentDepth+1)
			if subDepth > maxDepth {
				maxDepth = subDepth
			}
			keyCount += subKeys
		}
	}

	return maxDepth, keyCount
}
