package dagrun

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/task"
)

func diamondDag(t *testing.T) *task.Dag {
	t.Helper()
	d := task.NewDag("diamond")
	require.NoError(t, d.AddTask(&task.Task{ID: "a", Level: task.Mechanical(0)}))
	require.NoError(t, d.AddTask(&task.Task{ID: "b", Dependencies: []string{"a"}, Level: task.Mechanical(0)}))
	require.NoError(t, d.AddTask(&task.Task{ID: "c", Dependencies: []string{"a"}, Level: task.Mechanical(0)}))
	require.NoError(t, d.AddTask(&task.Task{ID: "d", Dependencies: []string{"b", "c"}, Level: task.Mechanical(0)}))
	return d
}

func TestNewMarksRootsReadyAndOthersPending(t *testing.T) {
	run := New("run1", diamondDag(t))
	require.Equal(t, NodeReady, run.NodeStatus["a"])
	require.Equal(t, NodePending, run.NodeStatus["b"])
	require.Equal(t, NodePending, run.NodeStatus["c"])
	require.Equal(t, NodePending, run.NodeStatus["d"])
}

func TestUpdateNodeStatusRequiresBothPredecessorsBeforeReady(t *testing.T) {
	run := New("run1", diamondDag(t))
	require.NoError(t, run.UpdateNodeStatus("a", NodeRunning, ""))
	require.NoError(t, run.UpdateNodeStatus("a", NodeCompleted, ""))

	require.Equal(t, NodeReady, run.NodeStatus["b"])
	require.Equal(t, NodeReady, run.NodeStatus["c"])
	require.Equal(t, NodePending, run.NodeStatus["d"])

	require.NoError(t, run.UpdateNodeStatus("b", NodeRunning, ""))
	require.NoError(t, run.UpdateNodeStatus("b", NodeCompleted, ""))
	require.Equal(t, NodePending, run.NodeStatus["d"]) // c still not done

	require.NoError(t, run.UpdateNodeStatus("c", NodeRunning, ""))
	require.NoError(t, run.UpdateNodeStatus("c", NodeCompleted, ""))
	require.Equal(t, NodeReady, run.NodeStatus["d"])
}

func TestUpdateNodeStatusIgnorableFailureLeavesDependentsAlone(t *testing.T) {
	run := New("run1", diamondDag(t))
	require.NoError(t, run.UpdateNodeStatus("a", NodeRunning, ""))
	require.NoError(t, run.UpdateNodeStatus("a", NodeFailed, task.FailureIgnorable))

	require.Equal(t, NodePending, run.NodeStatus["b"])
	require.Equal(t, NodePending, run.NodeStatus["c"])
}

func TestUpdateNodeStatusUnknownTaskErrors(t *testing.T) {
	run := New("run1", diamondDag(t))
	err := run.UpdateNodeStatus("nope", NodeRunning, "")
	require.Error(t, err)
}

func TestCancelAllMarksNonTerminalCancelled(t *testing.T) {
	run := New("run1", diamondDag(t))
	require.NoError(t, run.UpdateNodeStatus("a", NodeRunning, ""))
	require.NoError(t, run.UpdateNodeStatus("a", NodeCompleted, ""))

	run.CancelAll()
	require.Equal(t, StatusCancelled, run.Status)
	require.Equal(t, NodeCompleted, run.NodeStatus["a"])
	require.Equal(t, NodeCancelled, run.NodeStatus["b"])
	require.Equal(t, NodeCancelled, run.NodeStatus["c"])
	require.Equal(t, NodeCancelled, run.NodeStatus["d"])
}

func TestAllTerminalAndOutcome(t *testing.T) {
	run := New("run1", diamondDag(t))
	require.False(t, run.AllTerminal())

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, run.UpdateNodeStatus(id, NodeRunning, ""))
		require.NoError(t, run.UpdateNodeStatus(id, NodeCompleted, ""))
	}
	require.True(t, run.AllTerminal())
	require.Equal(t, StatusCompleted, run.Outcome())
}
