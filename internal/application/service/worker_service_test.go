//go:build unix

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/infrastructure/agentpool"
)

func newTestWorkerService(t *testing.T) (*WorkerService, *agentpool.Pool) {
	t.Helper()
	pool := agentpool.NewPool(2, catSpawner, nil)
	t.Cleanup(pool.Shutdown)
	return NewWorkerService(pool), pool
}

func TestWorkerServiceListReflectsAcquiredSessions(t *testing.T) {
	svc, pool := newTestWorkerService(t)

	entry, err := pool.Acquire(context.Background(), "run1", "a", "claude", t.TempDir(), "")
	require.NoError(t, err)

	page := svc.List(ListOptions{})
	require.Len(t, page.Items, 1)
	require.Equal(t, entry.Session.SessionID.String(), page.Items[0].SessionID)
	require.True(t, page.Items[0].Alive)
}

func TestWorkerServiceListFiltersByAgentKind(t *testing.T) {
	svc, pool := newTestWorkerService(t)

	_, err := pool.Acquire(context.Background(), "run1", "a", "claude", t.TempDir(), "")
	require.NoError(t, err)

	page := svc.List(ListOptions{Filters: map[string]string{"agent_kind": "aider"}})
	require.Empty(t, page.Items)

	page = svc.List(ListOptions{Filters: map[string]string{"agent_kind": "claude"}})
	require.Len(t, page.Items, 1)
}

func TestWorkerServiceInspectUnknownSessionIsNotFound(t *testing.T) {
	svc, _ := newTestWorkerService(t)
	_, err := svc.Inspect("no-such-session")
	require.Error(t, err)
}

func TestWorkerServiceStopEvictsSession(t *testing.T) {
	svc, pool := newTestWorkerService(t)

	entry, err := pool.Acquire(context.Background(), "run1", "a", "claude", t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, svc.Stop(entry.Session.SessionID.String()))
	require.Equal(t, 0, pool.Len())
}
