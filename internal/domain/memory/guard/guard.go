package guard

import (
	"time"

	"github.com/cis-project/cis/internal/domain/memory"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// ConflictGuard is the critical invariant keeper described in spec.md
// §4.3: it is the only thing in CIS that can mint a SafeMemoryContext,
// and it refuses to do so for any key with an unresolved ConflictRecord.
type ConflictGuard struct {
	store *memory.Store
}

// New builds a ConflictGuard over store.
func New(store *memory.Store) *ConflictGuard {
	return &ConflictGuard{store: store}
}

// CheckAndCreateContext is the sole constructor of SafeMemoryContext
// (spec.md §4.3). For each requested key it checks for an unresolved
// conflict; if all keys are clean it snapshots their entries under the
// store's read lock and returns the opaque context. Otherwise it fails
// with a MemoryConflict error naming every dirty key (spec.md §8
// property 5).
func (g *ConflictGuard) CheckAndCreateContext(keys []string) (SafeMemoryContext, error) {
	if dirty := g.store.UnresolvedConflictsFor(keys); len(dirty) > 0 {
		dirtyKeys := make([]string, 0, len(dirty))
		for _, c := range dirty {
			dirtyKeys = append(dirtyKeys, c.Key)
		}
		return SafeMemoryContext{}, cerr.MemoryConflict(dirtyKeys)
	}

	snapshot := make(map[string]memory.Entry, len(keys))
	for _, key := range keys {
		if e, ok := g.store.Get(key); ok {
			snapshot[key] = e
		}
	}
	return SafeMemoryContext{snapshot: snapshot}, nil
}

// DetectNewConflicts compares the local vector clock for each key against
// a remote snapshot taken during a sync; a concurrent (neither-dominates)
// pair becomes a new ConflictRecord (spec.md §4.3 detect_new_conflicts).
func (g *ConflictGuard) DetectNewConflicts(keys []string, remoteNode string, remoteClocks map[string]map[string]uint64, remoteValues map[string][]byte) []*memory.ConflictRecord {
	now := time.Now().UTC()
	var created []*memory.ConflictRecord
	for _, key := range keys {
		clock, ok := remoteClocks[key]
		if !ok {
			continue
		}
		if rec, isNew := g.store.DetectConflict(key, remoteNode, clock, remoteValues[key], now); isNew {
			created = append(created, rec)
		}
	}
	return created
}

// AIMergeFunc produces a merged value for a conflicting key, typically by
// calling into the agent-provider layer (spec.md §4.3: "AIMerge calls the
// agent-provider to produce a merged value").
type AIMergeFunc func(conflict *memory.ConflictRecord) ([]byte, error)

// ResolveConflict applies choice to conflictID. When choice is AIMerge and
// merge is nil (no agent-provider configured), it falls back to KeepLocal
// — the caller is expected to log the fallback as a warning, per
// spec.md §4.3.
func (g *ConflictGuard) ResolveConflict(conflictID string, choice memory.Resolution, merge AIMergeFunc) (fellBack bool, err error) {
	var mergedValue []byte
	if choice.Choice == memory.ResolutionAIMerge {
		if merge == nil {
			fellBack = true
		} else {
			record, lookupErr := g.store.ConflictByID(conflictID)
			if lookupErr != nil {
				return false, lookupErr
			}
			mergedValue, err = merge(record)
			if err != nil {
				fellBack = true
				mergedValue = nil
			}
		}
	}
	if resolveErr := g.store.ResolveConflict(conflictID, choice, mergedValue, time.Now().UTC()); resolveErr != nil {
		return fellBack, resolveErr
	}
	return fellBack, nil
}
