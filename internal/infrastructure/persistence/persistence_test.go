package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/memory"
	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DagRunRepository {
	t.Helper()
	db, err := Open(config.DatabaseConfig{DSN: "file:" + t.Name() + "?mode=memory&cache=shared"})
	require.NoError(t, err)
	return NewDagRunRepository(db)
}

func TestDagRunRepositorySaveGetRoundTrip(t *testing.T) {
	repo := openTestDB(t)

	d := task.NewDag("demo")
	require.NoError(t, d.AddTask(task.New("a", "A", "g")))
	run := dagrun.New("run-1", d)

	require.NoError(t, repo.Save(run))

	got, err := repo.Get("run-1")
	require.NoError(t, err)
	require.Equal(t, run.RunID, got.RunID)
	require.Equal(t, run.Status, got.Status)
}

func TestDagRunRepositoryListNonTerminalExcludesCompleted(t *testing.T) {
	repo := openTestDB(t)

	d := task.NewDag("demo")
	require.NoError(t, d.AddTask(task.New("a", "A", "g")))

	running := dagrun.New("run-running", d)
	running.Status = dagrun.StatusRunning
	require.NoError(t, repo.Save(running))

	done := dagrun.New("run-done", d)
	done.Status = dagrun.StatusCompleted
	require.NoError(t, repo.Save(done))

	runs, err := repo.ListNonTerminal()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "run-running", runs[0].RunID)
}

func TestMemoryRepositorySaveGetEntry(t *testing.T) {
	db, err := Open(config.DatabaseConfig{DSN: "file::memory:?cache=shared&_test=memrepo"})
	require.NoError(t, err)
	repo := NewMemoryRepository(db)

	now := time.Now().UTC()
	e := memory.Entry{Key: "k1", Value: []byte("v1"), Domain: memory.Public, Category: "notes", Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.SaveEntry(e))

	got, err := repo.GetEntry("k1")
	require.NoError(t, err)
	require.Equal(t, e.Value, got.Value)
	require.Equal(t, e.Domain, got.Domain)
}

func TestMemoryRepositoryVectorClockRoundTrip(t *testing.T) {
	db, err := Open(config.DatabaseConfig{DSN: "file::memory:?cache=shared&_test=clockrepo"})
	require.NoError(t, err)
	repo := NewMemoryRepository(db)

	clock := memory.NewVectorClock()
	clock.Increment("node-a")
	clock.Increment("node-a")
	clock.Increment("node-b")
	require.NoError(t, repo.SaveVectorClock("k1", clock))

	loaded, err := repo.LoadVectorClock("k1")
	require.NoError(t, err)
	require.Equal(t, clock.GetAll(), loaded.GetAll())
}

func TestConflictRepositorySaveGetAndListUnresolved(t *testing.T) {
	db, err := Open(config.DatabaseConfig{DSN: "file::memory:?cache=shared&_test=conflictrepo"})
	require.NoError(t, err)
	repo := NewConflictRepository(db)

	record := &memory.ConflictRecord{
		ConflictID: "k1:node-b",
		Key:        "k1",
		DetectedAt: time.Now().UTC(),
		Versions: []memory.ConflictVersion{
			{NodeID: "node-a", Value: []byte("local")},
			{NodeID: "node-b", Value: []byte("remote")},
		},
	}
	require.NoError(t, repo.Save(record))

	unresolved, err := repo.ListUnresolved()
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	got, err := repo.Get("k1:node-b")
	require.NoError(t, err)
	require.Len(t, got.Versions, 2)
	require.True(t, got.Unresolved())
}

func TestSessionRepositorySaveGetDelete(t *testing.T) {
	db, err := Open(config.DatabaseConfig{DSN: "file::memory:?cache=shared&_test=sessionrepo"})
	require.NoError(t, err)
	repo := NewSessionRepository(db)

	rec := SessionRecord{SessionID: "s1", Kind: "claude", State: "Idle", Workspace: "/tmp/ws", LastUsedAt: time.Now().UTC()}
	require.NoError(t, repo.Save(rec))

	got, err := repo.Get("s1")
	require.NoError(t, err)
	require.Equal(t, rec.Kind, got.Kind)

	require.NoError(t, repo.Delete("s1"))
	_, err = repo.Get("s1")
	require.Error(t, err)
}
