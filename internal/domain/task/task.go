// Package task implements CIS's typed-task data model (spec.md §3 "Task",
// "Dag") and its status state machine (spec.md §3 invariant, §8 property
// 2). Grounded on the Rust original's authoritative Task struct
// (_examples/original_source/cis-common/cis-types/src/task.rs) for field
// names, TaskLevel variants, and TaskPriority ordering, and on the
// teacher's internal/domain/service/state_machine.go for the
// validTransitions-map idiom used to enforce legal status transitions.
package task

import (
	"time"

	cerr "github.com/cis-project/cis/pkg/errors"
)

// Status is a task's lifecycle state (spec.md §3).
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusBlocked   Status = "Blocked"
	StatusCancelled Status = "Cancelled"
	StatusSkipped   Status = "Skipped"
)

// IsTerminal reports whether s is a terminal status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

// CanRun reports whether a task in status s is eligible to become Ready.
func (s Status) CanRun() bool {
	return s == StatusPending || s == StatusBlocked
}

// validTransitions enumerates every legal status edge, following the
// teacher's validTransitions-map idiom (state_machine.go) rather than an
// ad hoc chain of ifs — an invalid edge is a lookup miss, not a bug to
// spot by inspection.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusRunning: true, StatusCancelled: true, StatusBlocked: true, StatusSkipped: true},
	StatusBlocked:   {StatusPending: true, StatusCancelled: true, StatusSkipped: true},
	StatusRunning:   {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusSkipped:   {},
}

// ValidateTransition reports whether from -> to is a legal status edge.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if edges, ok := validTransitions[from]; ok && edges[to] {
		return nil
	}
	return cerr.Scheduler("illegal status transition " + string(from) + " -> " + string(to))
}

// Priority orders ready tasks within a topological level (SPEC_FULL.md §C,
// restored from the original's explicit discriminants).
type Priority int

const (
	PriorityLow     Priority = 1
	PriorityMedium  Priority = 2 // default
	PriorityHigh    Priority = 3
	PriorityUrgent  Priority = 4
)

// Action is what to do about a Recommended-level task when its countdown
// or an ambiguity policy fires.
type Action string

const (
	ActionExecute Action = "execute"
	ActionSkip    Action = "skip"
	ActionAbort   Action = "abort"
)

// FailureType controls how a Failed task's failure propagates to
// dependents (spec.md §4.6 update_node_status).
type FailureType string

const (
	FailureBlocking  FailureType = "blocking"
	FailureIgnorable FailureType = "ignorable"
)

// AmbiguityPolicy governs how a task resolves an ambiguous outcome.
type AmbiguityPolicy struct {
	Kind        string // "auto_best" | "suggest" | "ask" | "escalate"
	Default     Action
	TimeoutSecs uint16
}

// Level is the decision-tier variant carried on a task (spec.md §3, §4.7.d).
type Level struct {
	Kind string // "mechanical" | "recommended" | "confirmed" | "arbitrated"

	// Mechanical
	Retry uint8

	// Recommended
	DefaultAction Action
	TimeoutSecs   uint16

	// Arbitrated
	Stakeholders []string
}

func Mechanical(retry uint8) Level { return Level{Kind: "mechanical", Retry: retry} }
func Recommended(def Action, timeoutSecs uint16) Level {
	return Level{Kind: "recommended", DefaultAction: def, TimeoutSecs: timeoutSecs}
}
func Confirmed() Level { return Level{Kind: "confirmed"} }
func Arbitrated(stakeholders []string) Level {
	return Level{Kind: "arbitrated", Stakeholders: stakeholders}
}

// Task is immutable after creation except for its status-related fields.
type Task struct {
	ID                  string
	ParentID            string // SPEC_FULL.md §C: sub-task decomposition
	Title               string
	Description         string
	Group               string
	CompletionCriteria  string
	Status              Status
	Priority            Priority
	Dependencies        []string
	Result              string
	Error               string
	WorkspaceDir        string
	Sandboxed           bool
	AllowNetwork        bool
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	AgentRuntime        string
	ReuseAgent          string
	KeepAgent           bool
	Metadata            map[string]string
	Level               Level
	OnAmbiguity         AmbiguityPolicy
	Inputs              []string
	Outputs             []string
	Rollback            []string
	Idempotent          bool
	FailureType         FailureType
	SkillID             string
	SkillParams         map[string]any
	SkillResult         map[string]any
}

// New builds a Task with the original's defaults: Pending, Medium
// priority, sandboxed, Mechanical{retry: 3}.
func New(id, title, group string) *Task {
	return &Task{
		ID:          id,
		Title:       title,
		Group:       group,
		Status:      StatusPending,
		Priority:    PriorityMedium,
		Sandboxed:   true,
		CreatedAt:   time.Now().UTC(),
		Metadata:    map[string]string{},
		Level:       Mechanical(3),
		OnAmbiguity: AmbiguityPolicy{Kind: "auto_best"},
	}
}

// DependenciesSatisfied reports whether every dependency id appears in
// completed.
func (t *Task) DependenciesSatisfied(completed map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// IsSkillTask reports whether this task invokes a skill rather than an
// agent-runtime prompt.
func (t *Task) IsSkillTask() bool { return t.SkillID != "" }

// TransitionTo validates and applies a status change, stamping
// StartedAt/CompletedAt as appropriate.
func (t *Task) TransitionTo(status Status) error {
	if err := ValidateTransition(t.Status, status); err != nil {
		return err
	}
	now := time.Now().UTC()
	if status == StatusRunning && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if status.IsTerminal() {
		t.CompletedAt = &now
	}
	t.Status = status
	return nil
}

// Result of one skill or agent dispatch.
type Result struct {
	TaskID      string
	Success     bool
	Output      string
	Error       string
	DurationMS  int64
	CompletedAt time.Time
}
