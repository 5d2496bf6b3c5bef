// Package dagrun implements DagRun, the mutable record of one execution of
// a Dag (spec.md §3 "DagRun"). It is a plain data type; the scheduler
// (internal/application/scheduler) owns all mutation and persistence
// write-through.
package dagrun

import (
	"fmt"
	"time"

	"github.com/cis-project/cis/internal/domain/task"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// Status is the run's overall lifecycle state.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// NodeStatus is the per-task status tracked by a run, distinct from
// task.Status because a run additionally distinguishes Ready (dependencies
// satisfied, not yet dispatched) from Pending (spec.md §3 "DagRun").
type NodeStatus string

const (
	NodePending   NodeStatus = "Pending"
	NodeReady     NodeStatus = "Ready"
	NodeRunning   NodeStatus = "Running"
	NodeBlocked   NodeStatus = "Blocked" // conflict guard refused: unresolved conflicts on declared inputs
	NodeCompleted NodeStatus = "Completed"
	NodeFailed    NodeStatus = "Failed"
	NodeSkipped   NodeStatus = "Skipped"
	NodeCancelled NodeStatus = "Cancelled"
)

// IsTerminal reports whether a node in this status will never change again.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped, NodeCancelled:
		return true
	default:
		return false
	}
}

// DagRun is one concrete execution of a Dag.
type DagRun struct {
	RunID       string
	Dag         *task.Dag
	NodeStatus  map[string]NodeStatus
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// SessionBindings maps a node id to the AgentSession id it last used,
	// enabling reuse_agent lookups (spec.md §4.7.b).
	SessionBindings map[string]string
}

// New initializes a DagRun from d: every node without dependencies starts
// Ready, the rest start Pending (spec.md §4.6 create_run).
func New(runID string, d *task.Dag) *DagRun {
	run := &DagRun{
		RunID:           runID,
		Dag:             d,
		NodeStatus:      make(map[string]NodeStatus, len(d.Tasks)),
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
		SessionBindings: map[string]string{},
	}
	for id, t := range d.Tasks {
		if len(t.Dependencies) == 0 {
			run.NodeStatus[id] = NodeReady
		} else {
			run.NodeStatus[id] = NodePending
		}
	}
	return run
}

// ReadyTasks returns task ids currently Ready.
func (r *DagRun) ReadyTasks() []string {
	var ready []string
	for id, s := range r.NodeStatus {
		if s == NodeReady {
			ready = append(ready, id)
		}
	}
	return ready
}

// AllTerminal reports whether every node has reached a terminal status.
func (r *DagRun) AllTerminal() bool {
	for _, s := range r.NodeStatus {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}

// Outcome computes the run's final status once AllTerminal is true:
// Completed if every non-skipped node Completed, else Failed.
func (r *DagRun) Outcome() Status {
	for _, s := range r.NodeStatus {
		if s != NodeCompleted && s != NodeSkipped {
			return StatusFailed
		}
	}
	return StatusCompleted
}

// validNodeTransitions mirrors task.validTransitions but over the run's
// richer NodeStatus vocabulary (it additionally distinguishes Ready).
var validNodeTransitions = map[NodeStatus]map[NodeStatus]bool{
	NodePending:   {NodeReady: true, NodeCancelled: true, NodeSkipped: true},
	NodeReady:     {NodeRunning: true, NodeCancelled: true, NodeSkipped: true},
	NodeRunning:   {NodeCompleted: true, NodeFailed: true, NodeCancelled: true, NodeBlocked: true, NodeReady: true},
	NodeBlocked:   {NodeReady: true, NodeCancelled: true},
	NodeCompleted: {},
	NodeFailed:    {},
	NodeSkipped:   {},
	NodeCancelled: {},
}

// dependents returns the ids of tasks that directly depend on id.
func (r *DagRun) dependents(id string) []string {
	var out []string
	for otherID, t := range r.Dag.Tasks {
		for _, dep := range t.Dependencies {
			if dep == id {
				out = append(out, otherID)
				break
			}
		}
	}
	return out
}

// predecessorsSatisfied reports whether every dependency of id is
// Completed.
func (r *DagRun) predecessorsSatisfied(id string) bool {
	for _, dep := range r.Dag.Tasks[id].Dependencies {
		if r.NodeStatus[dep] != NodeCompleted {
			return false
		}
	}
	return true
}

// UpdateNodeStatus applies the transition for task id (spec.md §4.6
// update_node_status), rejecting illegal edges. On Completed it promotes
// every dependent whose predecessors are now all Completed from Pending
// to Ready. On Failed it applies failureType's propagation policy:
// Blocking marks every dependent Skipped and fails the run; Ignorable
// leaves dependents' statuses unchanged. Dependents of a Failed node are
// never promoted to Ready, since promotion requires every predecessor to
// be Completed.
func (r *DagRun) UpdateNodeStatus(id string, newStatus NodeStatus, failureType task.FailureType) error {
	current, ok := r.NodeStatus[id]
	if !ok {
		return cerr.NotFound(fmt.Sprintf("task %q not part of run %s", id, r.RunID))
	}
	if current != newStatus {
		edges, known := validNodeTransitions[current]
		if !known || !edges[newStatus] {
			return cerr.Scheduler(fmt.Sprintf("illegal node status transition %s -> %s for task %q", current, newStatus, id))
		}
	}
	r.NodeStatus[id] = newStatus

	switch newStatus {
	case NodeCompleted:
		for _, dep := range r.dependents(id) {
			if r.NodeStatus[dep] == NodePending && r.predecessorsSatisfied(dep) {
				r.NodeStatus[dep] = NodeReady
			}
		}
	case NodeFailed:
		if failureType == task.FailureBlocking {
			r.skipDependentsRecursive(id)
			r.Status = StatusFailed
		}
	}
	return nil
}

func (r *DagRun) skipDependentsRecursive(id string) {
	for _, dep := range r.dependents(id) {
		if r.NodeStatus[dep].IsTerminal() {
			continue
		}
		r.NodeStatus[dep] = NodeSkipped
		r.skipDependentsRecursive(dep)
	}
}

// CancelAll atomically marks every non-terminal node Cancelled and the
// run Cancelled (spec.md §4.6 cancel_run).
func (r *DagRun) CancelAll() {
	for id, s := range r.NodeStatus {
		if !s.IsTerminal() {
			r.NodeStatus[id] = NodeCancelled
		}
	}
	r.Status = StatusCancelled
}

// CancelNode marks a single non-terminal node Cancelled without touching
// the rest of the run (TaskService's per-task cancel, spec.md §4.8).
func (r *DagRun) CancelNode(id string) error {
	current, ok := r.NodeStatus[id]
	if !ok {
		return cerr.NotFound(fmt.Sprintf("task %q not part of run %s", id, r.RunID))
	}
	if current.IsTerminal() {
		return cerr.InvalidInput(fmt.Sprintf("task %q is already terminal (%s)", id, current))
	}
	r.NodeStatus[id] = NodeCancelled
	return nil
}

// RetryNode resets a Failed node back to Ready so the scheduler will hand
// it to the executor again (TaskService's explicit retry, spec.md §4.8).
// This is a deliberate escape hatch around validNodeTransitions, which has
// no outbound edge from a terminal status — retry is a user decision, not
// an automatic transition the state machine should allow silently.
func (r *DagRun) RetryNode(id string) error {
	current, ok := r.NodeStatus[id]
	if !ok {
		return cerr.NotFound(fmt.Sprintf("task %q not part of run %s", id, r.RunID))
	}
	if current != NodeFailed {
		return cerr.InvalidInput(fmt.Sprintf("task %q is %s, not Failed; only a failed task can be retried", id, current))
	}
	r.NodeStatus[id] = NodeReady
	if t, ok := r.Dag.Tasks[id]; ok {
		t.Error = ""
	}
	if r.Status == StatusFailed {
		r.Status = StatusRunning
	}
	return nil
}
