package memory

import (
	"sync"
	"time"

	cerr "github.com/cis-project/cis/pkg/errors"
)

// Store owns the per-node key->entry map, one VectorClock per key, and the
// conflict-record table. It implements spec.md §4.3's get/set/delete/
// list_keys surface. Reads and writes serialize on a single RWMutex per
// spec.md §5's "Shared-resource policy" for the memory store.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	clocks    map[string]*VectorClock
	conflicts map[string]*ConflictRecord // conflict_id -> record
	localNode string
	encryptor Encryptor
}

// NewStore builds an empty Store scoped to localNode (used to stamp
// OwnerNode and as the key into each entry's VectorClock on local writes).
func NewStore(localNode string) *Store {
	return &Store{
		entries:   map[string]Entry{},
		clocks:    map[string]*VectorClock{},
		conflicts: map[string]*ConflictRecord{},
		localNode: localNode,
	}
}

// SetEncryptor wires the seal/open collaborator used to keep Private-domain
// entries encrypted at rest (spec.md §4.3). Left unset, Set/Get pass values
// through unchanged — the nil-is-a-no-op convention this codebase uses for
// optional collaborators elsewhere (agentpool.Pool.SetSandbox, wasmhost.Host's
// fdCount).
func (s *Store) SetEncryptor(e Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = e
}

// Get returns the current entry for key, transparently decrypting its value
// if it belongs to the Private domain (spec.md §4.3).
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	encryptor := s.encryptor
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if e.Domain == Private && encryptor != nil {
		plaintext, err := encryptor.Decrypt(e.Value)
		if err != nil {
			return Entry{}, false
		}
		e.Value = plaintext
	}
	return e, true
}

// Set writes a local value for key, advancing the local node's component
// of the key's VectorClock (spec.md §4.2 memory_set: "will produce a new
// VectorClock entry for the local node"). Private-domain values are sealed
// with the wired Encryptor before being stored, so Private entries are never
// held in memory as plaintext outside of a Get call (spec.md §4.3 "Private
// entries are transparently encrypted with a per-node key").
func (s *Store) Set(e Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Domain == Private && s.encryptor != nil {
		ciphertext, err := s.encryptor.Encrypt(e.Value)
		if err == nil {
			e.Value = ciphertext
		}
	}

	clock := s.clockLocked(e.Key)
	clock.Increment(s.localNode)

	if existing, ok := s.entries[e.Key]; ok {
		e.Version = existing.Version + 1
		e.CreatedAt = existing.CreatedAt
	} else {
		e.Version = 1
		e.CreatedAt = e.UpdatedAt
	}
	e.OwnerNode = s.localNode
	s.entries[e.Key] = e
	return e
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// ListKeys returns keys whose entries match f.
func (s *Store) ListKeys(f ListFilter) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k, e := range s.entries {
		if f.Matches(e) {
			keys = append(keys, k)
		}
	}
	return keys
}

// ClockFor returns (creating if absent) the VectorClock for key.
func (s *Store) ClockFor(key string) *VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockLocked(key)
}

func (s *Store) clockLocked(key string) *VectorClock {
	c, ok := s.clocks[key]
	if !ok {
		c = NewVectorClock()
		s.clocks[key] = c
	}
	return c
}

// DetectConflict compares the local clock for key against a remote
// snapshot; if the two are concurrent (spec.md §4.3
// detect_new_conflicts), it records and returns a new unresolved
// ConflictRecord.
func (s *Store) DetectConflict(key string, remoteNode string, remoteClock map[string]uint64, remoteValue []byte, detectedAt time.Time) (*ConflictRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.clockLocked(key)
	if local.CompareTo(remoteClock) != Concurrent {
		return nil, false
	}

	localEntry := s.entries[key]
	record := &ConflictRecord{
		ConflictID: key + ":" + remoteNode,
		Key:        key,
		DetectedAt: detectedAt,
		Versions: []ConflictVersion{
			{NodeID: s.localNode, VectorClock: local.GetAll(), Value: localEntry.Value, Timestamp: localEntry.UpdatedAt},
			{NodeID: remoteNode, VectorClock: remoteClock, Value: remoteValue, Timestamp: detectedAt},
		},
	}
	s.conflicts[record.ConflictID] = record
	return record, true
}

// UnresolvedConflictsFor returns every unresolved ConflictRecord touching
// any of keys.
func (s *Store) UnresolvedConflictsFor(keys []string) []*ConflictRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []*ConflictRecord
	for _, c := range s.conflicts {
		if want[c.Key] && c.Unresolved() {
			out = append(out, c)
		}
	}
	return out
}

// ConflictByID looks up a conflict record.
func (s *Store) ConflictByID(id string) (*ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, cerr.NotFound("conflict " + id + " not found")
	}
	return c, nil
}

// ResolveConflict applies choice to the named conflict: picks the winning
// value, writes it back through Set (which advances the local vector
// clock past all prior versions), and marks the record resolved.
func (s *Store) ResolveConflict(conflictID string, resolution Resolution, mergedValue []byte, now time.Time) error {
	s.mu.Lock()
	record, ok := s.conflicts[conflictID]
	if !ok {
		s.mu.Unlock()
		return cerr.NotFound("conflict " + conflictID + " not found")
	}

	var winner []byte
	switch resolution.Choice {
	case ResolutionKeepLocal:
		for _, v := range record.Versions {
			if v.NodeID == s.localNode {
				winner = v.Value
			}
		}
	case ResolutionKeepRemote:
		for _, v := range record.Versions {
			if v.NodeID == resolution.RemoteNodeID {
				winner = v.Value
			}
		}
	case ResolutionKeepBoth:
		winner = concatVersions(record.Versions)
	case ResolutionAIMerge:
		if mergedValue == nil {
			// Provider absent: fall back to KeepLocal and let the caller
			// log a warning (spec.md §4.3 resolve_conflict).
			resolution.Choice = ResolutionKeepLocal
			for _, v := range record.Versions {
				if v.NodeID == s.localNode {
					winner = v.Value
				}
			}
		} else {
			winner = mergedValue
		}
	}

	record.ResolvedAt = &now
	record.ChosenResolution = &resolution
	key := record.Key
	priorEntry := s.entries[key]

	clock := s.clockLocked(key)
	for _, v := range record.Versions {
		clock.Merge(v.VectorClock)
	}
	s.mu.Unlock()

	s.Set(Entry{Key: key, Value: winner, Domain: priorEntry.Domain, Category: priorEntry.Category, UpdatedAt: now})
	return nil
}

func concatVersions(versions []ConflictVersion) []byte {
	var out []byte
	for i, v := range versions {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, v.Value...)
	}
	return out
}
