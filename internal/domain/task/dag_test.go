package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func linearDag(t *testing.T) *Dag {
	t.Helper()
	d := NewDag("linear")
	a := New_("A")
	b := New_("B")
	b.Dependencies = []string{"A"}
	c := New_("C")
	c.Dependencies = []string{"B"}
	for _, tk := range []*Task{a, b, c} {
		require.NoError(t, d.AddTask(tk))
	}
	return d
}

func New_(id string) *Task { return New(id, id, "g") }

// spec.md §8 property 1: validate() accepts iff topological_sort() yields
// all nodes.
func TestDagValidateAcyclic(t *testing.T) {
	d := linearDag(t)
	order, err := d.Validate()
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, order)
}

func TestDagValidateRejectsCycle(t *testing.T) {
	d := NewDag("cyclic")
	a := New_("A")
	a.Dependencies = []string{"B"}
	b := New_("B")
	b.Dependencies = []string{"A"}
	require.NoError(t, d.AddTask(a))
	require.NoError(t, d.AddTask(b))

	_, err := d.Validate()
	require.Error(t, err)
}

func TestDagValidateRejectsUnknownDependency(t *testing.T) {
	d := NewDag("missing")
	a := New_("A")
	a.Dependencies = []string{"ghost"}
	require.NoError(t, d.AddTask(a))

	_, err := d.Validate()
	require.Error(t, err)
}

func TestTopologicalLevelsFanOutFanIn(t *testing.T) {
	d := NewDag("diamond")
	a := New_("A")
	b := New_("B")
	b.Dependencies = []string{"A"}
	c := New_("C")
	c.Dependencies = []string{"A"}
	dd := New_("D")
	dd.Dependencies = []string{"B", "C"}
	for _, tk := range []*Task{a, b, c, dd} {
		require.NoError(t, d.AddTask(tk))
	}

	levels, err := d.TopologicalLevels()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}}, levels)
}

func TestStatusTransitions(t *testing.T) {
	require.NoError(t, ValidateTransition(StatusPending, StatusRunning))
	require.NoError(t, ValidateTransition(StatusRunning, StatusCompleted))
	require.NoError(t, ValidateTransition(StatusPending, StatusCancelled))
	require.NoError(t, ValidateTransition(StatusBlocked, StatusPending))
	require.Error(t, ValidateTransition(StatusCompleted, StatusRunning))
	require.Error(t, ValidateTransition(StatusPending, StatusCompleted))
}
