package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorClockMonotonic(t *testing.T) {
	c := NewVectorClock()
	a := c.Increment("n1")
	b := c.Increment("n1")
	require.Less(t, a, b)
}

// spec.md §8 property 4: merge is associative, commutative, idempotent
// per component (max).
func TestVectorClockMergeIsMaxAndIdempotent(t *testing.T) {
	c := NewVectorClock()
	c.Increment("n1")
	c.Increment("n1")

	c.Merge(map[string]uint64{"n1": 1, "n2": 5})
	require.Equal(t, map[string]uint64{"n1": 2, "n2": 5}, c.GetAll())

	// merging the same state again changes nothing (idempotent)
	before := c.GetAll()
	c.Merge(before)
	require.Equal(t, before, c.GetAll())
}

func TestVectorClockCompareTo(t *testing.T) {
	c := NewVectorClock()
	c.Merge(map[string]uint64{"n1": 2, "n2": 1})

	require.Equal(t, Before, c.CompareTo(map[string]uint64{"n1": 3, "n2": 1}))
	require.Equal(t, After, c.CompareTo(map[string]uint64{"n1": 1, "n2": 1}))
	require.Equal(t, Concurrent, c.CompareTo(map[string]uint64{"n1": 1, "n2": 2}))
	require.Equal(t, Concurrent, c.CompareTo(map[string]uint64{"n1": 2, "n2": 1}))
}
