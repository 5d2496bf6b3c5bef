package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/memory"
)

func TestCheckAndCreateContextCleanKeys(t *testing.T) {
	store := memory.NewStore("node-a")
	store.Set(memory.Entry{Key: "k1", Value: []byte("v1"), UpdatedAt: time.Now()})
	g := New(store)

	ctx, err := g.CheckAndCreateContext([]string{"k1"})
	require.NoError(t, err)
	e, ok := ctx.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("v1"), e.Value)
}

// spec.md §8 property 5: no task receives a SafeMemoryContext for a key
// with an unresolved ConflictRecord.
func TestCheckAndCreateContextRefusesDirtyKey(t *testing.T) {
	store := memory.NewStore("node-a")
	store.Set(memory.Entry{Key: "k1", Value: []byte("local"), UpdatedAt: time.Now()})

	_, isNew := store.DetectConflict("k1", "node-b", map[string]uint64{"node-b": 5}, []byte("remote"), time.Now())
	require.True(t, isNew)

	g := New(store)
	_, err := g.CheckAndCreateContext([]string{"k1"})
	require.Error(t, err)
}

func TestResolveConflictKeepLocalUnblocks(t *testing.T) {
	store := memory.NewStore("node-a")
	store.Set(memory.Entry{Key: "k1", Value: []byte("local"), UpdatedAt: time.Now()})
	store.DetectConflict("k1", "node-b", map[string]uint64{"node-b": 5}, []byte("remote"), time.Now())

	g := New(store)
	conflicts := store.UnresolvedConflictsFor([]string{"k1"})
	require.Len(t, conflicts, 1)

	fellBack, err := g.ResolveConflict(conflicts[0].ConflictID, memory.Resolution{Choice: memory.ResolutionKeepLocal}, nil)
	require.NoError(t, err)
	require.False(t, fellBack)

	ctx, err := g.CheckAndCreateContext([]string{"k1"})
	require.NoError(t, err)
	e, _ := ctx.Get("k1")
	require.Equal(t, []byte("local"), e.Value)
}

func TestResolveConflictAIMergeFallsBackWithoutProvider(t *testing.T) {
	store := memory.NewStore("node-a")
	store.Set(memory.Entry{Key: "k1", Value: []byte("local"), UpdatedAt: time.Now()})
	store.DetectConflict("k1", "node-b", map[string]uint64{"node-b": 5}, []byte("remote"), time.Now())

	g := New(store)
	conflicts := store.UnresolvedConflictsFor([]string{"k1"})

	fellBack, err := g.ResolveConflict(conflicts[0].ConflictID, memory.Resolution{Choice: memory.ResolutionAIMerge}, nil)
	require.NoError(t, err)
	require.True(t, fellBack)
}
