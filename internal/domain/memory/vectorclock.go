package memory

import "sync"

// VectorClock maps node id to a monotonically increasing counter (spec.md
// §3 "VectorClock"). Grounded on
// _examples/original_source/cis-core/src/memory/guard/vector_clock_safe.rs
// for the "serialize on a single mutex" shape — but unlike that file
// (whose Merge is a no-op stub with the real merge call commented out,
// per spec.md §9's "do not replicate source bugs" instruction), this
// Merge actually performs the per-key max merge spec.md §3 requires.
type VectorClock struct {
	mu      sync.RWMutex
	counter map[string]uint64
}

// NewVectorClock returns an empty clock.
func NewVectorClock() *VectorClock {
	return &VectorClock{counter: make(map[string]uint64)}
}

// Increment advances nodeID's counter by one and returns the new value.
func (c *VectorClock) Increment(nodeID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter[nodeID]++
	return c.counter[nodeID]
}

// Get returns nodeID's counter and whether it has ever been set.
func (c *VectorClock) Get(nodeID string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.counter[nodeID]
	return v, ok
}

// GetAll returns a snapshot of every (node, counter) pair.
func (c *VectorClock) GetAll() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]uint64, len(c.counter))
	for k, v := range c.counter {
		out[k] = v
	}
	return out
}

// Merge takes the per-component max of c and other, mutating c in place.
// Merge is associative, commutative, and idempotent by construction
// (spec.md §8 property 4), since max() has those properties per component.
func (c *VectorClock) Merge(other map[string]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for node, v := range other {
		if cur := c.counter[node]; v > cur {
			c.counter[node] = v
		}
	}
}

// Ordering is the causal relationship CompareTo reports between c and other:
// -1 if c happens-before other, 1 if other happens-before c, 0 if
// concurrent or equal.
type Ordering int

const (
	Before     Ordering = -1
	Concurrent Ordering = 0
	After      Ordering = 1
)

// CompareTo determines whether c dominates, is dominated by, or is
// concurrent with other (neither dominates) — the test used by the
// conflict guard to decide if two versions conflict.
func (c *VectorClock) CompareTo(other map[string]uint64) Ordering {
	mine := c.GetAll()

	mineLessSomewhere, mineGreaterSomewhere := false, false
	keys := map[string]bool{}
	for k := range mine {
		keys[k] = true
	}
	for k := range other {
		keys[k] = true
	}
	for k := range keys {
		a, b := mine[k], other[k]
		if a < b {
			mineLessSomewhere = true
		}
		if a > b {
			mineGreaterSomewhere = true
		}
	}

	switch {
	case mineLessSomewhere && !mineGreaterSomewhere:
		return Before
	case mineGreaterSomewhere && !mineLessSomewhere:
		return After
	default:
		return Concurrent
	}
}
