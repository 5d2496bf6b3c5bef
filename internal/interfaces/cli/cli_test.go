//go:build unix

package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/application/service"
	"github.com/cis-project/cis/internal/domain/kademlia"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
	"github.com/cis-project/cis/internal/infrastructure/dht"
	cerr "github.com/cis-project/cis/pkg/errors"
)

func catSpawner(ctx context.Context, agentKind, workspaceDir string) (*agentpool.Process, error) {
	return agentpool.StartProcess(ctx, "cat", nil, workspaceDir, nil)
}

type fakeTransport struct{}

func (fakeTransport) Send(ctx context.Context, peer dht.Peer, msg dht.Message) (dht.Message, error) {
	return dht.Message{Kind: dht.MsgPong}, nil
}

func testID(b byte) [20]byte {
	var id [20]byte
	id[0] = b
	return id
}

func TestExitCodeMapping(t *testing.T) {
	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, 2, exitCode(errConfirmationRequired))
	require.Equal(t, 3, exitCode(cerr.Configuration("missing db path")))
	require.Equal(t, 1, exitCode(cerr.NotFound("run x not found")))
}

func newTestNodeService(t *testing.T) *service.NodeService {
	t.Helper()
	local := testID(1)
	table := kademlia.NewRoutingTable(local)
	storage := dht.NewLocalStorage(time.Hour)
	node := dht.NewNode(local, table, storage, fakeTransport{}, 3, time.Hour, nil)
	return service.NewNodeService(node)
}

func TestNodeStatsCommandPrintsStoreUsage(t *testing.T) {
	root := NewRootCommand(&Services{Node: newTestNodeService(t)})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"node", "stats"})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "Total keys:")
}

func TestNodeBindThenBlockViaCommands(t *testing.T) {
	svc := newTestNodeService(t)
	root := NewRootCommand(&Services{Node: svc})

	id := testID(7)
	hexID := "0700000000000000000000000000000000000000"

	root.SetArgs([]string{"node", "bind", hexID})
	require.NoError(t, root.Execute())
	require.True(t, svc.Allowed(id))

	root.SetArgs([]string{"node", "block", hexID})
	require.NoError(t, root.Execute())
	require.False(t, svc.Allowed(id))
}

func TestWorkerListCommandReflectsAcquiredSession(t *testing.T) {
	pool := agentpool.NewPool(2, catSpawner, nil)
	t.Cleanup(pool.Shutdown)
	svc := service.NewWorkerService(pool)

	_, err := pool.Acquire(context.Background(), "run1", "a", "claude", t.TempDir(), "")
	require.NoError(t, err)

	root := NewRootCommand(&Services{Worker: svc})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"worker", "list"})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "claude")
}

func TestWorkerStopRequiresConfirmation(t *testing.T) {
	pool := agentpool.NewPool(2, catSpawner, nil)
	t.Cleanup(pool.Shutdown)
	svc := service.NewWorkerService(pool)

	entry, err := pool.Acquire(context.Background(), "run1", "a", "claude", t.TempDir(), "")
	require.NoError(t, err)

	root := NewRootCommand(&Services{Worker: svc})
	root.SetArgs([]string{"worker", "stop", entry.Session.SessionID.String()})
	err = root.Execute()
	require.ErrorIs(t, err, errConfirmationRequired)
	require.Equal(t, 2, exitCode(err))

	root.SetArgs([]string{"worker", "stop", entry.Session.SessionID.String(), "--yes"})
	require.NoError(t, root.Execute())
	require.Equal(t, 0, pool.Len())
}
