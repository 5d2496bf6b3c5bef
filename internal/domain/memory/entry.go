// Package memory implements the per-key versioned memory store shared
// across peers: MemoryEntry, VectorClock, and ConflictRecord (spec.md §3,
// §4.3). The compile-time-safe read path (SafeMemoryContext) lives in the
// guard subpackage so it can be made structurally unconstructible outside
// its own module — see guard/safecontext.go.
package memory

import "time"

// Domain distinguishes entries that are node-local and encrypted (Private)
// from entries that replicate across the cluster (Public).
type Domain string

const (
	Private Domain = "private"
	Public  Domain = "public"
)

// Entry is one versioned memory value (spec.md §3 "MemoryEntry").
type Entry struct {
	Key       string
	Value     []byte
	Domain    Domain
	Category  string
	OwnerNode string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Encrypted reports whether this entry's value is stored encrypted at
// rest — true exactly for the Private domain (spec.md §9: the original's
// From<MemoryEntry> conversion sets encrypted=true iff domain is Private).
func (e Entry) Encrypted() bool { return e.Domain == Private }

// Encryptor seals/opens Private-domain entry values at rest (spec.md
// §4.3 "Private entries are transparently encrypted with a per-node
// key; encryption has two versions (v1, v2) selectable at open;
// rotation re-encrypts lazily on write"). Store calls Encrypt on every
// Set and Decrypt on every Get for a Private-domain entry, so rotation
// (a new Encryptor derived from a different CurrentVersion) takes effect
// the next time a key is written, without a migration pass.
//
// Kept as a domain-level interface rather than importing
// infrastructure/cryptoid directly, matching the layering every other
// Store collaborator (repositories, the conflict guard) already follows.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ListFilter selects entries by domain/category/key-prefix for list_keys
// (spec.md §4.3).
type ListFilter struct {
	Domain   *Domain
	Category string
	Prefix   string
}

// Matches reports whether e satisfies f.
func (f ListFilter) Matches(e Entry) bool {
	if f.Domain != nil && e.Domain != *f.Domain {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Prefix != "" && !hasPrefix(e.Key, f.Prefix) {
		return false
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
