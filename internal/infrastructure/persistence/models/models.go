// Package models holds the gorm row types for CIS's five SQLite tables
// (spec.md §6 "Persisted state layout"), each a thin BLOB/column wrapper
// around a domain type. Grounded on the teacher's
// internal/infrastructure/persistence/models package (MessageModel,
// AgentModel): same convention of a `TableName()` override plus plain
// exported columns. Every column carries an explicit `gorm:"column:..."`
// tag rather than relying on gorm's default snake_case inference.
package models

// DagRunModel is `dag_runs(run_id PRIMARY KEY, payload BLOB, status TEXT,
// updated_at INTEGER)`. payload holds the full JSON-serialized DagRun
// (internal/infrastructure/dagfile.MarshalRun); status is duplicated out
// as its own column purely so a rehydration query can filter
// non-terminal runs without deserializing every payload.
type DagRunModel struct {
	RunID     string `gorm:"column:run_id;primaryKey"`
	Payload   []byte `gorm:"column:payload"`
	Status    string `gorm:"column:status;index"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

func (DagRunModel) TableName() string { return "dag_runs" }

// MemoryEntryModel is `memory_entries(key PRIMARY KEY, value BLOB, domain
// TEXT, category TEXT, created_at INTEGER, updated_at INTEGER, version
// INTEGER)`. value holds ciphertext when domain is Private
// (internal/infrastructure/cryptoid.PrivateBox).
type MemoryEntryModel struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     []byte `gorm:"column:value"`
	Domain    string `gorm:"column:domain;index"`
	Category  string `gorm:"column:category;index"`
	CreatedAt int64  `gorm:"column:created_at"`
	UpdatedAt int64  `gorm:"column:updated_at"`
	Version   int64  `gorm:"column:version"`
}

func (MemoryEntryModel) TableName() string { return "memory_entries" }

// ConflictModel is `conflicts(conflict_id PRIMARY KEY, key TEXT, versions
// BLOB, detected_at INTEGER, resolved_at INTEGER, chosen TEXT)`. versions
// holds JSON-encoded []memory.ConflictVersion; chosen is empty until
// resolved.
type ConflictModel struct {
	ConflictID string `gorm:"column:conflict_id;primaryKey"`
	Key        string `gorm:"column:key;index"`
	Versions   []byte `gorm:"column:versions"`
	DetectedAt int64  `gorm:"column:detected_at"`
	ResolvedAt *int64 `gorm:"column:resolved_at"`
	Chosen     string `gorm:"column:chosen"`
}

func (ConflictModel) TableName() string { return "conflicts" }

// VectorClockModel is `vector_clocks(key TEXT, node_id TEXT, counter
// INTEGER, PRIMARY KEY(key, node_id))` — one row per (key, node)
// component of a memory.VectorClock.
type VectorClockModel struct {
	Key     string `gorm:"column:key;primaryKey"`
	NodeID  string `gorm:"column:node_id;primaryKey"`
	Counter uint64 `gorm:"column:counter"`
}

func (VectorClockModel) TableName() string { return "vector_clocks" }

// SessionModel is `sessions(session_id PRIMARY KEY, kind TEXT, state TEXT,
// workspace TEXT, last_used_at INTEGER)` — the durable record of an
// AgentSession (module 16), surviving the session's own in-memory struct
// across a restart so the session pool knows what it last had bound,
// even though no task auto-resumes on it (spec.md §4.6: "no tasks
// auto-resume").
type SessionModel struct {
	SessionID  string `gorm:"column:session_id;primaryKey"`
	Kind       string `gorm:"column:kind"`
	State      string `gorm:"column:state;index"`
	Workspace  string `gorm:"column:workspace"`
	LastUsedAt int64  `gorm:"column:last_used_at"`
}

func (SessionModel) TableName() string { return "sessions" }
