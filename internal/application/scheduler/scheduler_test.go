package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/task"
)

type fakeRepo struct {
	mu   sync.Mutex
	runs map[string]*dagrun.DagRun
}

func newFakeRepo() *fakeRepo { return &fakeRepo{runs: map[string]*dagrun.DagRun{}} }

func (f *fakeRepo) Save(ctx context.Context, run *dagrun.DagRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.RunID] = run
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, runID string) (*dagrun.DagRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[runID], nil
}

func (f *fakeRepo) ListNonTerminal(ctx context.Context) ([]*dagrun.DagRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*dagrun.DagRun
	for _, r := range f.runs {
		if r.Status == dagrun.StatusPending || r.Status == dagrun.StatusRunning {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) Delete(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.runs, runID)
	return nil
}

func linearDag(t *testing.T) *task.Dag {
	t.Helper()
	d := task.NewDag("linear")
	require.NoError(t, d.AddTask(&task.Task{ID: "a", Status: task.StatusPending, Level: task.Mechanical(0)}))
	require.NoError(t, d.AddTask(&task.Task{ID: "b", Dependencies: []string{"a"}, Status: task.StatusPending, Level: task.Mechanical(0)}))
	require.NoError(t, d.AddTask(&task.Task{ID: "c", Dependencies: []string{"b"}, Status: task.StatusPending, Level: task.Mechanical(0)}))
	return d
}

func TestCreateRunInitializesReadyAndPending(t *testing.T) {
	s := New(newFakeRepo(), nil, nil)
	runID, err := s.CreateRun(context.Background(), linearDag(t))
	require.NoError(t, err)

	ready, err := s.ReadyTasks(runID)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ready)
}

func TestCreateRunRejectsCycles(t *testing.T) {
	d := task.NewDag("cyclic")
	require.NoError(t, d.AddTask(&task.Task{ID: "a", Dependencies: []string{"b"}, Level: task.Mechanical(0)}))
	require.NoError(t, d.AddTask(&task.Task{ID: "b", Dependencies: []string{"a"}, Level: task.Mechanical(0)}))

	s := New(newFakeRepo(), nil, nil)
	_, err := s.CreateRun(context.Background(), d)
	require.Error(t, err)
}

func TestUpdateNodeStatusPromotesDependentToReady(t *testing.T) {
	s := New(newFakeRepo(), nil, nil)
	runID, err := s.CreateRun(context.Background(), linearDag(t))
	require.NoError(t, err)

	require.NoError(t, s.UpdateNodeStatus(context.Background(), runID, "a", dagrun.NodeRunning, ""))
	require.NoError(t, s.UpdateNodeStatus(context.Background(), runID, "a", dagrun.NodeCompleted, ""))

	ready, err := s.ReadyTasks(runID)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ready)
}

func TestUpdateNodeStatusBlockingFailurePropagatesSkipped(t *testing.T) {
	s := New(newFakeRepo(), nil, nil)
	runID, err := s.CreateRun(context.Background(), linearDag(t))
	require.NoError(t, err)

	require.NoError(t, s.UpdateNodeStatus(context.Background(), runID, "a", dagrun.NodeRunning, ""))
	require.NoError(t, s.UpdateNodeStatus(context.Background(), runID, "a", dagrun.NodeFailed, task.FailureBlocking))

	run, err := s.Get(runID)
	require.NoError(t, err)
	require.Equal(t, dagrun.NodeSkipped, run.NodeStatus["b"])
	require.Equal(t, dagrun.NodeSkipped, run.NodeStatus["c"])
	require.Equal(t, dagrun.StatusFailed, run.Status)
}

func TestUpdateNodeStatusRejectsIllegalEdge(t *testing.T) {
	s := New(newFakeRepo(), nil, nil)
	runID, err := s.CreateRun(context.Background(), linearDag(t))
	require.NoError(t, err)

	err = s.UpdateNodeStatus(context.Background(), runID, "a", dagrun.NodeCompleted, "")
	require.Error(t, err)
}

func TestCancelRunMarksNonTerminalNodesCancelled(t *testing.T) {
	s := New(newFakeRepo(), nil, nil)
	runID, err := s.CreateRun(context.Background(), linearDag(t))
	require.NoError(t, err)

	require.NoError(t, s.UpdateNodeStatus(context.Background(), runID, "a", dagrun.NodeRunning, ""))
	require.NoError(t, s.UpdateNodeStatus(context.Background(), runID, "a", dagrun.NodeCompleted, ""))

	require.NoError(t, s.CancelRun(context.Background(), runID))

	run, err := s.Get(runID)
	require.NoError(t, err)
	require.Equal(t, dagrun.StatusCancelled, run.Status)
	require.Equal(t, dagrun.NodeCompleted, run.NodeStatus["a"])
	require.Equal(t, dagrun.NodeCancelled, run.NodeStatus["b"])
	require.Equal(t, dagrun.NodeCancelled, run.NodeStatus["c"])
}

func TestTopologicalLevelsMatchesDagLevels(t *testing.T) {
	s := New(newFakeRepo(), nil, nil)
	runID, err := s.CreateRun(context.Background(), linearDag(t))
	require.NoError(t, err)

	levels, err := s.TopologicalLevels(runID)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levels)
}

func TestRestoreRehydratesNonTerminalRuns(t *testing.T) {
	repo := newFakeRepo()
	s1 := New(repo, nil, nil)
	runID, err := s1.CreateRun(context.Background(), linearDag(t))
	require.NoError(t, err)

	s2 := New(repo, nil, nil)
	require.NoError(t, s2.Restore(context.Background()))

	ready, err := s2.ReadyTasks(runID)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ready)
}
