// Package session implements CIS's AgentSession domain model (spec.md §3
// "AgentSession") and its state machine (spec.md §4.5 pool operations).
// Grounded on the Rust original's agent cluster doc comments
// (_examples/original_source/cis-core/src/agent/cluster/mod.rs — the
// SessionManager/AgentSession architecture sketch and the SessionId
// short()/Display/From<&str> idiom) and on the teacher's
// internal/domain/task.validTransitions map idiom, reused here for the
// session lifecycle rather than invented fresh.
package session

import (
	"fmt"
	"strings"
	"time"

	cerr "github.com/cis-project/cis/pkg/errors"
)

// State is an AgentSession's lifecycle state (spec.md §3:
// "state ∈ {Starting, Idle, Busy, Checkpointing, Shutdown, Error}").
type State string

const (
	StateStarting      State = "Starting"
	StateIdle          State = "Idle"
	StateBusy          State = "Busy"
	StateCheckpointing State = "Checkpointing"
	StateShutdown      State = "Shutdown"
	StateError         State = "Error"
)

// IsTerminal reports whether a session in state s can never transition
// again; the pool evicts terminal sessions on its next sweep.
func (s State) IsTerminal() bool {
	return s == StateShutdown
}

// IsAvailable reports whether a session in state s is eligible for
// acquire() (spec.md §4.5 "try an idle session of the right kind").
func (s State) IsAvailable() bool {
	return s == StateIdle
}

// validTransitions enumerates every legal state edge, following the
// teacher's task.validTransitions idiom: an illegal edge is a lookup
// miss, not a bug a reviewer has to spot among a chain of ifs.
var validTransitions = map[State]map[State]bool{
	StateStarting:      {StateIdle: true, StateError: true, StateShutdown: true},
	StateIdle:          {StateBusy: true, StateCheckpointing: true, StateShutdown: true, StateError: true},
	StateBusy:          {StateIdle: true, StateCheckpointing: true, StateError: true, StateShutdown: true},
	StateCheckpointing: {StateIdle: true, StateError: true, StateShutdown: true},
	StateError:         {StateShutdown: true},
	StateShutdown:       {},
}

// ValidateTransition reports whether from -> to is a legal session state
// edge.
func ValidateTransition(from, to State) error {
	if from == to {
		return nil
	}
	if edges, ok := validTransitions[from]; ok && edges[to] {
		return nil
	}
	return cerr.Scheduler(fmt.Sprintf("illegal session state transition %s -> %s", from, to))
}

// ID uniquely names one AgentSession by the DAG run and task that
// spawned it, mirroring cluster/mod.rs's SessionId (dag_run_id + task_id,
// with a "run_id:task_id" short display form).
type ID struct {
	DagRunID string
	TaskID   string
}

// NewID builds an ID from a run and task id.
func NewID(dagRunID, taskID string) ID {
	return ID{DagRunID: dagRunID, TaskID: taskID}
}

// String renders "dag_run_id:task_id", the original's Display impl.
func (id ID) String() string {
	return id.DagRunID + ":" + id.TaskID
}

// Short renders the original's short() format: the run id truncated to 8
// characters, followed by the full task id.
func (id ID) Short() string {
	runShort := id.DagRunID
	if len(runShort) > 8 {
		runShort = runShort[:8]
	}
	return runShort + ":" + id.TaskID
}

// ParseID parses "run_id:task_id", mirroring parse_session_id's strict
// two-part requirement (unlike the lenient From<&str> fallback, which
// CIS does not carry over: a malformed id should fail loudly rather than
// silently becoming a degenerate "unknown" task id).
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ID{}, cerr.InvalidInput(fmt.Sprintf("invalid session id format %q, expected \"run_id:task_id\"", s))
	}
	return ID{DagRunID: parts[0], TaskID: parts[1]}, nil
}

// AgentSession is a long-lived external agent process bound to a
// workspace (spec.md §3). PTY handles are owned by whatever runtime
// layer spawned the process (internal/infrastructure/agentpool); this
// type tracks only the session's lifecycle and bookkeeping fields.
type AgentSession struct {
	SessionID    ID
	AgentType    string
	RuntimeKind  string // e.g. "claude", "aider", "kimi" — spec.md §3 agent_runtime
	State        State
	WorkspaceDir string
	Capabilities []string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	KeepAlive    bool // spec.md §4.7.f "Release the session with keep_alive = node.keep_agent"
	PID          int  // 0 until the owning pool attaches a live process
}

// New creates a session in Starting state.
func New(id ID, agentType, runtimeKind, workspaceDir string, caps []string) *AgentSession {
	now := time.Now().UTC()
	return &AgentSession{
		SessionID:    id,
		AgentType:    agentType,
		RuntimeKind:  runtimeKind,
		State:        StateStarting,
		WorkspaceDir: workspaceDir,
		Capabilities: caps,
		CreatedAt:    now,
		LastUsedAt:   now,
	}
}

// Transition moves the session to newState, rejecting illegal edges.
func (s *AgentSession) Transition(newState State) error {
	if err := ValidateTransition(s.State, newState); err != nil {
		return err
	}
	s.State = newState
	s.LastUsedAt = time.Now().UTC()
	return nil
}

// MarkUsed stamps LastUsedAt without changing State, used by the pool on
// every acquire/release to keep cleanup_idle's idle-timeout clock honest.
func (s *AgentSession) MarkUsed() {
	s.LastUsedAt = time.Now().UTC()
}

// IdleFor reports how long the session has sat unused, relative to now.
func (s *AgentSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastUsedAt)
}

// HasCapability reports whether cap is among the session's declared
// capability set (spec.md §3 capability_set).
func (s *AgentSession) HasCapability(cap string) bool {
	for _, c := range s.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
