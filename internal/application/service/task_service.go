package service

import (
	"context"
	"sort"

	"github.com/cis-project/cis/internal/application/scheduler"
	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// TaskService is spec.md §4.8's task-facing facade, scoped to one run at
// a time: list, show, update status, retry, cancel, logs. It has no
// create operation; tasks enter a run only as part of a Dag submitted
// through DagService.Create.
type TaskService struct {
	sched *scheduler.Scheduler
	pool  *agentpool.Pool
}

// NewTaskService wires a TaskService. pool may be nil if Logs is never
// called.
func NewTaskService(sched *scheduler.Scheduler, pool *agentpool.Pool) *TaskService {
	return &TaskService{sched: sched, pool: pool}
}

// List returns runID's tasks, optionally filtered by
// ListOptions.Filters["status"] (matched against the run's node status,
// not the task's own immutable Status field) or ["group"].
func (s *TaskService) List(runID string, opts ListOptions) (PaginatedResult[*task.Task], error) {
	run, err := s.sched.Get(runID)
	if err != nil {
		return PaginatedResult[*task.Task]{}, err
	}

	tasks := make([]*task.Task, 0, len(run.Dag.Tasks))
	for _, t := range run.Dag.Tasks {
		if status, ok := opts.Filters["status"]; ok && string(run.NodeStatus[t.ID]) != status {
			continue
		}
		if !opts.matches("group", t.Group) {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return paginate(tasks, opts), nil
}

// Show returns one task plus its current run-scoped node status.
func (s *TaskService) Show(runID, taskID string) (*task.Task, dagrun.NodeStatus, error) {
	run, err := s.sched.Get(runID)
	if err != nil {
		return nil, "", err
	}
	t, ok := run.Dag.Tasks[taskID]
	if !ok {
		return nil, "", notFound("task", taskID)
	}
	return t, run.NodeStatus[taskID], nil
}

// UpdateStatus applies a manual node-status transition, going through the
// scheduler so persistence and events stay consistent.
func (s *TaskService) UpdateStatus(ctx context.Context, runID, taskID string, status dagrun.NodeStatus) error {
	return s.sched.UpdateNodeStatus(ctx, runID, taskID, status, "")
}

// Retry resets a Failed task back to Ready.
func (s *TaskService) Retry(ctx context.Context, runID, taskID string) error {
	return s.sched.RetryTask(ctx, runID, taskID)
}

// Cancel cancels a single non-terminal task within runID.
func (s *TaskService) Cancel(ctx context.Context, runID, taskID string) error {
	return s.sched.CancelTask(ctx, runID, taskID)
}

// Logs returns the raw output captured so far from the agent session
// bound to taskID, if any is currently held by the pool.
func (s *TaskService) Logs(runID, taskID string) (string, error) {
	run, err := s.sched.Get(runID)
	if err != nil {
		return "", err
	}
	sessionID, ok := run.SessionBindings[taskID]
	if !ok {
		return "", cerr.NotFound("task " + taskID + " has no agent session bound yet")
	}
	if s.pool == nil {
		return "", cerr.Configuration("task service has no agent pool wired")
	}
	entry, ok := s.pool.Get(sessionID)
	if !ok {
		return "", cerr.NotFound("agent session " + sessionID + " is no longer held by the pool")
	}
	return entry.Process.Output(), nil
}
