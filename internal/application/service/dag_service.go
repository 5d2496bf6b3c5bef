package service

import (
	"context"
	"sort"

	"github.com/cis-project/cis/internal/application/executor"
	"github.com/cis-project/cis/internal/application/scheduler"
	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
	"github.com/cis-project/cis/internal/infrastructure/dagfile"
	"github.com/cis-project/cis/internal/infrastructure/persistence"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// DagService is spec.md §4.8's DAG-facing facade: list, inspect, create,
// run, cancel, remove DAGs, plus list/acquire/release agent sessions for
// a run.
type DagService struct {
	sched *scheduler.Scheduler
	exec  *executor.Executor
	pool  *agentpool.Pool
	repo  *persistence.DagRunRepository
}

// NewDagService wires a DagService. repo may be nil if Remove is never
// called (e.g. an in-memory-only test harness).
func NewDagService(sched *scheduler.Scheduler, exec *executor.Executor, pool *agentpool.Pool, repo *persistence.DagRunRepository) *DagService {
	return &DagService{sched: sched, exec: exec, pool: pool, repo: repo}
}

// List returns every run currently held in the in-memory index,
// optionally filtered by status (ListOptions.Filters["status"]) and
// capped at Limit.
func (s *DagService) List(opts ListOptions) PaginatedResult[*dagrun.DagRun] {
	runs := s.sched.List()
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })

	if status, ok := opts.Filters["status"]; ok {
		filtered := runs[:0]
		for _, r := range runs {
			if string(r.Status) == status {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}
	return paginate(runs, opts)
}

// Inspect returns the full DagRun record for runID.
func (s *DagService) Inspect(runID string) (*dagrun.DagRun, error) {
	return s.sched.Get(runID)
}

// Create registers d as a new run and returns its run_id.
func (s *DagService) Create(ctx context.Context, d *task.Dag) (string, error) {
	return s.sched.CreateRun(ctx, d)
}

// CreateFromFile loads a DAG from a TOML file (spec.md §6 "DAG file
// format") and registers it as a new run.
func (s *DagService) CreateFromFile(ctx context.Context, path string) (string, error) {
	d, err := dagfile.LoadFile(path)
	if err != nil {
		return "", err
	}
	return s.Create(ctx, d)
}

// Run drives runID to completion, blocking until every node is terminal
// or ctx is cancelled. Front-ends that want a non-blocking "start" call
// this on their own goroutine.
func (s *DagService) Run(ctx context.Context, runID string) error {
	if s.exec == nil {
		return cerr.Configuration("dag service has no executor wired")
	}
	return s.exec.Run(ctx, runID)
}

// Cancel atomically marks runID and its non-terminal nodes Cancelled.
func (s *DagService) Cancel(ctx context.Context, runID string) error {
	return s.sched.CancelRun(ctx, runID)
}

// Remove deletes a terminal run's persisted record. It refuses to remove
// a run still in flight — cancel it first.
func (s *DagService) Remove(runID string) error {
	run, err := s.sched.Get(runID)
	if err != nil {
		return err
	}
	if !run.AllTerminal() {
		return cerr.InvalidInput("run " + runID + " is not terminal; cancel it before removing")
	}
	if s.repo == nil {
		return nil
	}
	return s.repo.Delete(runID)
}

// ListSessions returns every agent session bound to runID's tasks so far.
func (s *DagService) ListSessions(runID string) ([]*agentpool.Entry, error) {
	run, err := s.sched.Get(runID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var entries []*agentpool.Entry
	for _, sessionID := range run.SessionBindings {
		if seen[sessionID] {
			continue
		}
		seen[sessionID] = true
		if e, ok := s.pool.Get(sessionID); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// AcquireSession pre-warms an agent session for taskID within runID,
// outside of the executor's own automatic acquire-on-dispatch flow —
// useful for a front-end that wants to pay spawn latency ahead of time.
func (s *DagService) AcquireSession(ctx context.Context, runID, taskID, agentKind, workspaceDir, reuseID string) (*agentpool.Entry, error) {
	entry, err := s.pool.Acquire(ctx, runID, taskID, agentKind, workspaceDir, reuseID)
	if err != nil {
		return nil, err
	}
	if err := s.sched.BindSession(ctx, runID, taskID, entry.Session.SessionID.String()); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReleaseSession releases sessionID back to the pool.
func (s *DagService) ReleaseSession(sessionID string, keepAlive bool) error {
	return s.pool.Release(sessionID, keepAlive)
}
