//go:build unix

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/application/scheduler"
	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
)

func twoTaskDag(t *testing.T) *task.Dag {
	t.Helper()
	d := task.NewDag("pair")
	require.NoError(t, d.AddTask(&task.Task{ID: "a", Title: "a", Group: "setup", Level: task.Mechanical(0)}))
	require.NoError(t, d.AddTask(&task.Task{ID: "b", Title: "b", Group: "build", Dependencies: []string{"a"}, Level: task.Mechanical(0)}))
	return d
}

func newTestTaskService(t *testing.T) (*TaskService, *scheduler.Scheduler, *agentpool.Pool, string) {
	t.Helper()
	sched := scheduler.New(newFakeRunRepo(), nil, nil)
	pool := agentpool.NewPool(2, catSpawner, nil)
	t.Cleanup(pool.Shutdown)
	runID, err := sched.CreateRun(context.Background(), twoTaskDag(t))
	require.NoError(t, err)
	return NewTaskService(sched, pool), sched, pool, runID
}

func TestTaskServiceListFiltersByGroup(t *testing.T) {
	svc, _, _, runID := newTestTaskService(t)

	page, err := svc.List(runID, ListOptions{Filters: map[string]string{"group": "build"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "b", page.Items[0].ID)
}

func TestTaskServiceShowReturnsNodeStatus(t *testing.T) {
	svc, _, _, runID := newTestTaskService(t)

	tk, status, err := svc.Show(runID, "a")
	require.NoError(t, err)
	require.Equal(t, "a", tk.ID)
	require.Equal(t, dagrun.NodeReady, status)
}

func TestTaskServiceUpdateStatusThenRetry(t *testing.T) {
	svc, sched, _, runID := newTestTaskService(t)

	require.NoError(t, svc.UpdateStatus(context.Background(), runID, "a", dagrun.NodeRunning))
	require.NoError(t, svc.UpdateStatus(context.Background(), runID, "a", dagrun.NodeFailed))

	_, status, err := svc.Show(runID, "a")
	require.NoError(t, err)
	require.Equal(t, dagrun.NodeFailed, status)

	require.NoError(t, svc.Retry(context.Background(), runID, "a"))
	_, status, err = svc.Show(runID, "a")
	require.NoError(t, err)
	require.Equal(t, dagrun.NodeReady, status)

	_ = sched
}

func TestTaskServiceCancelMarksNodeCancelled(t *testing.T) {
	svc, _, _, runID := newTestTaskService(t)

	require.NoError(t, svc.Cancel(context.Background(), runID, "b"))
	_, status, err := svc.Show(runID, "b")
	require.NoError(t, err)
	require.Equal(t, dagrun.NodeCancelled, status)
}

func TestTaskServiceLogsReturnsProcessOutputForBoundSession(t *testing.T) {
	svc, sched, pool, runID := newTestTaskService(t)

	entry, err := pool.Acquire(context.Background(), runID, "a", "claude", t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, sched.BindSession(context.Background(), runID, "a", entry.Session.SessionID.String()))

	out, err := svc.Logs(runID, "a")
	require.NoError(t, err)
	require.Equal(t, "", out) // cat has not echoed anything back yet
}

func TestTaskServiceLogsErrorsWithoutBoundSession(t *testing.T) {
	svc, _, _, runID := newTestTaskService(t)

	_, err := svc.Logs(runID, "b")
	require.Error(t, err)
}
