// Package scheduler implements the DAG scheduler (spec.md §4.6): the run
// table, create_run/ready_tasks/update_node_status/cancel_run/
// topological_levels, and SQLite write-through via
// internal/infrastructure/persistence.DagRunRepository. Grounded on the
// teacher's service-layer idiom of an in-memory index guarded by a single
// mutex, backed by a repository interface rather than a concrete store,
// so tests substitute a map-backed fake repository (scheduler_test.go's
// fakeRepo).
package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/eventbus"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// EventRunCreated, EventNodeStatusChanged, EventRunCompleted and
// EventRunCancelled are the eventbus.Event types the
// scheduler publishes, consumed by EventDriven-mode executors and
// front-ends (spec.md §4.7 "Scheduling modes", §2 "Event bus").
const (
	EventRunCreated      = "run.created"
	EventNodeStatusChanged = "node.status_changed"
	EventRunCompleted    = "run.completed"
	EventRunCancelled    = "run.cancelled"
)

// Repository is the persistence seam a Scheduler write-throughs every
// mutation to (internal/infrastructure/persistence.DagRunRepository
// satisfies this).
type Repository interface {
	Save(ctx context.Context, run *dagrun.DagRun) error
	Get(ctx context.Context, runID string) (*dagrun.DagRun, error)
	ListNonTerminal(ctx context.Context) ([]*dagrun.DagRun, error)
	Delete(ctx context.Context, runID string) error
}

// Scheduler owns the run table: an in-memory index of live *dagrun.DagRun
// handles, write-through persisted to repo, announcing every mutation on
// bus.
type Scheduler struct {
	mu    sync.RWMutex
	runs  map[string]*dagrun.DagRun
	repo  Repository
	bus   eventbus.Bus
	logger *zap.Logger
}

// New builds a Scheduler. bus may be nil, in which case events are not
// published (useful for tests that only care about state).
func New(repo Repository, bus eventbus.Bus, logger *zap.Logger) *Scheduler {
	return &Scheduler{runs: make(map[string]*dagrun.DagRun), repo: repo, bus: bus, logger: logger}
}

// Restore rehydrates every non-terminal run from the repository into the
// in-memory index on startup. No tasks auto-resume: spec.md §4.6
// "their in-memory handles are recreated but no tasks auto-resume — a
// client must explicitly continue."
func (s *Scheduler) Restore(ctx context.Context) error {
	runs, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range runs {
		s.runs[r.RunID] = r
	}
	return nil
}

// CreateRun validates d's acyclicity, initializes node statuses, persists
// the run, and returns its run_id (spec.md §4.6 create_run).
func (s *Scheduler) CreateRun(ctx context.Context, d *task.Dag) (string, error) {
	if _, err := d.Validate(); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	run := dagrun.New(runID, d)

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	if err := s.repo.Save(ctx, run); err != nil {
		return "", err
	}
	s.publish(ctx, EventRunCreated, runID, "")
	return runID, nil
}

// ReadyTasks returns task ids currently Ready for runID (spec.md §4.6
// ready_tasks).
func (s *Scheduler) ReadyTasks(runID string) ([]string, error) {
	run, err := s.getLocal(runID)
	if err != nil {
		return nil, err
	}
	return run.ReadyTasks(), nil
}

// TopologicalLevels partitions runID's dag into parallel batches
// (spec.md §4.6 topological_levels).
func (s *Scheduler) TopologicalLevels(runID string) ([][]string, error) {
	run, err := s.getLocal(runID)
	if err != nil {
		return nil, err
	}
	return run.Dag.TopologicalLevels()
}

// UpdateNodeStatus applies the status edge for taskID within runID,
// write-throughs the run, and publishes a node-status-changed event; if
// the run has become terminal it also publishes a run-completed event
// (spec.md §4.6 update_node_status).
func (s *Scheduler) UpdateNodeStatus(ctx context.Context, runID, taskID string, newStatus dagrun.NodeStatus, failureType task.FailureType) error {
	run, err := s.getLocal(runID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	err = run.UpdateNodeStatus(taskID, newStatus, failureType)
	if err == nil && run.AllTerminal() && run.Status == dagrun.StatusPending {
		run.Status = run.Outcome()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.repo.Save(ctx, run); err != nil {
		return err
	}
	s.publish(ctx, EventNodeStatusChanged, runID, taskID)
	if run.AllTerminal() {
		s.publish(ctx, EventRunCompleted, runID, "")
	}
	return nil
}

// CancelRun atomically marks every non-terminal node and the run itself
// Cancelled (spec.md §4.6 cancel_run). Aborting in-flight agent sessions
// is the executor's responsibility; the scheduler only flips state.
func (s *Scheduler) CancelRun(ctx context.Context, runID string) error {
	run, err := s.getLocal(runID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	run.CancelAll()
	s.mu.Unlock()

	if err := s.repo.Save(ctx, run); err != nil {
		return err
	}
	s.publish(ctx, EventRunCancelled, runID, "")
	return nil
}

// CancelTask cancels a single non-terminal node within runID without
// touching the rest of the run (spec.md §4.8 TaskService.cancel).
func (s *Scheduler) CancelTask(ctx context.Context, runID, taskID string) error {
	run, err := s.getLocal(runID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	err = run.CancelNode(taskID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, run); err != nil {
		return err
	}
	s.publish(ctx, EventNodeStatusChanged, runID, taskID)
	return nil
}

// RetryTask resets a Failed node back to Ready (spec.md §4.8
// TaskService.retry).
func (s *Scheduler) RetryTask(ctx context.Context, runID, taskID string) error {
	run, err := s.getLocal(runID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	err = run.RetryNode(taskID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, run); err != nil {
		return err
	}
	s.publish(ctx, EventNodeStatusChanged, runID, taskID)
	return nil
}

// BindSession records which agent session a task ended up using, keyed by
// task id, so a later node's reuse_agent can find it (spec.md §4.7.b).
func (s *Scheduler) BindSession(ctx context.Context, runID, taskID, sessionID string) error {
	run, err := s.getLocal(runID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	run.SessionBindings[taskID] = sessionID
	s.mu.Unlock()
	return s.repo.Save(ctx, run)
}

// Get returns the live handle for runID.
func (s *Scheduler) Get(runID string) (*dagrun.DagRun, error) {
	return s.getLocal(runID)
}

// List returns every run currently held in the in-memory index.
func (s *Scheduler) List() []*dagrun.DagRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*dagrun.DagRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out
}

func (s *Scheduler) getLocal(runID string) (*dagrun.DagRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, cerr.NotFound("dag run " + runID + " not found")
	}
	return run, nil
}

func (s *Scheduler) publish(ctx context.Context, eventType, runID, taskID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, eventbus.NewEvent(eventType, map[string]string{"run_id": runID, "task_id": taskID}))
}
