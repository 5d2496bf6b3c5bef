//go:build unix

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/application/executor"
	"github.com/cis-project/cis/internal/application/scheduler"
	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
)

func catSpawner(ctx context.Context, agentKind, workspaceDir string) (*agentpool.Process, error) {
	return agentpool.StartProcess(ctx, "cat", nil, workspaceDir, nil)
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]*dagrun.DagRun
}

func newFakeRunRepo() *fakeRunRepo { return &fakeRunRepo{runs: map[string]*dagrun.DagRun{}} }

func (f *fakeRunRepo) Save(ctx context.Context, run *dagrun.DagRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.RunID] = run
	return nil
}
func (f *fakeRunRepo) Get(ctx context.Context, runID string) (*dagrun.DagRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[runID], nil
}
func (f *fakeRunRepo) ListNonTerminal(ctx context.Context) ([]*dagrun.DagRun, error) { return nil, nil }
func (f *fakeRunRepo) Delete(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.runs, runID)
	return nil
}

func oneTaskDag(t *testing.T) *task.Dag {
	t.Helper()
	d := task.NewDag("solo")
	require.NoError(t, d.AddTask(&task.Task{ID: "a", Title: "a", Level: task.Mechanical(0)}))
	return d
}

func newTestDagService(t *testing.T) (*DagService, *scheduler.Scheduler, *agentpool.Pool) {
	t.Helper()
	sched := scheduler.New(newFakeRunRepo(), nil, nil)
	pool := agentpool.NewPool(2, catSpawner, nil)
	t.Cleanup(pool.Shutdown)
	cfg := executor.Config{PollInterval: 10 * time.Millisecond, MaxConcurrentTasks: 2}
	ex := executor.New(cfg, sched, pool, nil, nil, nil, nil, nil, nil)
	return NewDagService(sched, ex, pool, nil), sched, pool
}

func TestDagServiceCreateAndInspect(t *testing.T) {
	svc, _, _ := newTestDagService(t)
	runID, err := svc.Create(context.Background(), oneTaskDag(t))
	require.NoError(t, err)

	run, err := svc.Inspect(runID)
	require.NoError(t, err)
	require.Equal(t, runID, run.RunID)
}

func TestDagServiceListFiltersByStatus(t *testing.T) {
	svc, _, _ := newTestDagService(t)
	runID, err := svc.Create(context.Background(), oneTaskDag(t))
	require.NoError(t, err)

	page := svc.List(ListOptions{Filters: map[string]string{"status": string(dagrun.StatusPending)}})
	require.Len(t, page.Items, 1)
	require.Equal(t, runID, page.Items[0].RunID)

	page = svc.List(ListOptions{Filters: map[string]string{"status": string(dagrun.StatusCompleted)}})
	require.Empty(t, page.Items)
}

func TestDagServiceRunDrivesTaskToCompletion(t *testing.T) {
	svc, _, _ := newTestDagService(t)
	runID, err := svc.Create(context.Background(), oneTaskDag(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Run(ctx, runID))

	run, err := svc.Inspect(runID)
	require.NoError(t, err)
	require.Equal(t, dagrun.StatusCompleted, run.Status)
}

func TestDagServiceRemoveRefusesNonTerminalRun(t *testing.T) {
	svc, _, _ := newTestDagService(t)
	runID, err := svc.Create(context.Background(), oneTaskDag(t))
	require.NoError(t, err)

	require.Error(t, svc.Remove(runID))
}

func TestDagServiceAcquireAndReleaseSession(t *testing.T) {
	svc, _, pool := newTestDagService(t)
	runID, err := svc.Create(context.Background(), oneTaskDag(t))
	require.NoError(t, err)

	entry, err := svc.AcquireSession(context.Background(), runID, "a", "claude", t.TempDir(), "")
	require.NoError(t, err)
	require.Equal(t, 1, pool.Len())

	sessions, err := svc.ListSessions(runID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, svc.ReleaseSession(entry.Session.SessionID.String(), false))
	require.Equal(t, 0, pool.Len())
}
