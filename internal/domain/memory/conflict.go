package memory

import "time"

// ConflictVersion is one node's view of a key at the moment a conflict was
// detected (spec.md §3 "ConflictRecord").
type ConflictVersion struct {
	NodeID      string
	VectorClock map[string]uint64
	Value       []byte
	Timestamp   time.Time
}

// Resolution is the chosen outcome of resolving a conflict (spec.md §4.3
// resolve_conflict).
type Resolution struct {
	Choice       string // "keep_local" | "keep_remote" | "keep_both" | "ai_merge"
	RemoteNodeID string // populated only for "keep_remote"
}

const (
	ResolutionKeepLocal  = "keep_local"
	ResolutionKeepRemote = "keep_remote"
	ResolutionKeepBoth   = "keep_both"
	ResolutionAIMerge    = "ai_merge"
)

// ConflictRecord tracks an unresolved (or resolved) disagreement over a
// key's value across peers.
type ConflictRecord struct {
	ConflictID       string
	Key              string
	Versions         []ConflictVersion
	DetectedAt       time.Time
	ResolvedAt       *time.Time
	ChosenResolution *Resolution
}

// Unresolved reports whether this record still blocks reads of its key.
func (c *ConflictRecord) Unresolved() bool { return c.ChosenResolution == nil }
