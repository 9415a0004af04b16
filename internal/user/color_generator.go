package user

import (
	"hash/fnv"
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

const goldenRatio = 0.618033988749895

// ColorGenerator: hands out well separated collaborator colors for one room
type ColorGenerator struct {
	offset  float64
	counter int
	mu      sync.Mutex
}

// NewColorGenerator: the seed shifts the starting hue so rooms differ
func NewColorGenerator(seed string) *ColorGenerator {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return &ColorGenerator{
		offset: float64(h.Sum32()%1000) / 1000,
	}
}

// NextColor: returns the next color in the golden ratio sequence
func (cg *ColorGenerator) NextColor() string {
	cg.mu.Lock()
	defer cg.mu.Unlock()

	_, hue := math.Modf(cg.offset + float64(cg.counter)*goldenRatio)
	cg.counter++

	return colorful.Hsl(hue*360, 0.85, 0.55).Hex()
}
