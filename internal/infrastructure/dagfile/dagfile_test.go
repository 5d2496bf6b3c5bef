package dagfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/task"
)

const sampleTOML = `
name = "build-and-test"

[[task]]
id = "build"
title = "Build the project"
priority = "high"

[[task]]
id = "test"
title = "Run the test suite"
dependencies = ["build"]
failure_type = "blocking"

[task.level]
kind = "recommended"
default_action = "execute"
timeout_secs = 30
`

func TestParseRoundTripsThroughToml(t *testing.T) {
	d, err := Parse([]byte(sampleTOML))
	require.NoError(t, err)
	require.Equal(t, "build-and-test", d.Name)
	require.Len(t, d.Tasks, 2)

	build := d.Tasks["build"]
	require.Equal(t, task.PriorityHigh, build.Priority)
	require.Equal(t, "mechanical", build.Level.Kind) // default level

	test := d.Tasks["test"]
	require.Equal(t, []string{"build"}, test.Dependencies)
	require.Equal(t, "recommended", test.Level.Kind)
	require.Equal(t, task.ActionExecute, test.Level.DefaultAction)
	require.Equal(t, task.FailureBlocking, test.FailureType)

	order, err := d.Validate()
	require.NoError(t, err)
	require.Equal(t, []string{"build", "test"}, order)
}

func TestParseRejectsUnknownLevelKind(t *testing.T) {
	_, err := Parse([]byte(`
name = "bad"
[[task]]
id = "a"
title = "A"
[task.level]
kind = "whenever"
`))
	require.Error(t, err)
}

func TestMarshalUnmarshalDagIsLossless(t *testing.T) {
	d, err := Parse([]byte(sampleTOML))
	require.NoError(t, err)

	raw, err := Marshal(d)
	require.NoError(t, err)

	d2, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, d.Name, d2.Name)
	require.Equal(t, len(d.Tasks), len(d2.Tasks))
	require.Equal(t, d.Tasks["test"].Level.TimeoutSecs, d2.Tasks["test"].Level.TimeoutSecs)
}

// spec.md §8 property 9: a DagRun round-trips through JSON without loss.
func TestDagRunJSONRoundTrip(t *testing.T) {
	d, err := Parse([]byte(sampleTOML))
	require.NoError(t, err)

	run := dagrun.New("run-1", d)
	run.NodeStatus["build"] = dagrun.NodeRunning

	raw, err := MarshalRun(run)
	require.NoError(t, err)

	got, err := UnmarshalRun(raw)
	require.NoError(t, err)
	require.Equal(t, run.RunID, got.RunID)
	require.Equal(t, run.Status, got.Status)
	require.Equal(t, run.NodeStatus["build"], got.NodeStatus["build"])
	require.Equal(t, len(run.Dag.Tasks), len(got.Dag.Tasks))
}
