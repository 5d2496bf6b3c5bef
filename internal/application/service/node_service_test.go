package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/kademlia"
	"github.com/cis-project/cis/internal/infrastructure/dht"
	"github.com/cis-project/cis/pkg/cisid"
)

type fakeTransport struct{}

func (fakeTransport) Send(ctx context.Context, peer dht.Peer, msg dht.Message) (dht.Message, error) {
	if msg.Kind == dht.MsgPing {
		return dht.Message{Kind: dht.MsgPong}, nil
	}
	return dht.Message{}, nil
}

func testID(b byte) cisid.NodeId {
	raw := make([]byte, cisid.Length)
	raw[0] = b
	id, _ := cisid.FromBytes(raw)
	return id
}

func newTestNodeService(t *testing.T) (*NodeService, *dht.Node) {
	t.Helper()
	local := testID(0)
	table := kademlia.NewRoutingTable(local)
	storage := dht.NewLocalStorage(time.Hour)
	n := dht.NewNode(local, table, storage, fakeTransport{}, 3, time.Hour, nil)
	return NewNodeService(n), n
}

func TestNodeServiceListPeersReturnsInsertedPeers(t *testing.T) {
	svc, n := newTestNodeService(t)
	peer := kademlia.NewNodeInfo(testID(1), "10.0.0.1:9000")
	require.True(t, n.Table().Insert(peer))

	page := svc.ListPeers(ListOptions{})
	require.Len(t, page.Items, 1)
	require.True(t, page.Items[0].ID.Equal(peer.ID))
}

func TestNodeServiceInspectUnknownPeerIsNotFound(t *testing.T) {
	svc, _ := newTestNodeService(t)
	_, err := svc.Inspect(testID(9))
	require.Error(t, err)
}

func TestNodeServicePingDelegatesToNode(t *testing.T) {
	svc, _ := newTestNodeService(t)
	err := svc.Ping(context.Background(), dht.Peer{ID: testID(1), Address: "10.0.0.1:9000"})
	require.NoError(t, err)
}

func TestNodeServiceBindEnforcesWhitelist(t *testing.T) {
	svc, _ := newTestNodeService(t)
	a, b := testID(1), testID(2)

	require.True(t, svc.Allowed(a)) // no whitelist yet: everyone allowed
	require.True(t, svc.Allowed(b))

	svc.Bind(a)
	require.True(t, svc.Allowed(a))
	require.False(t, svc.Allowed(b))
}

func TestNodeServiceBlockOverridesBind(t *testing.T) {
	svc, _ := newTestNodeService(t)
	a := testID(1)

	svc.Bind(a)
	svc.Block(a)
	require.False(t, svc.Allowed(a))
}

func TestNodeServiceVerifyChecksDerivation(t *testing.T) {
	svc, _ := newTestNodeService(t)
	pubKey := []byte("a fake ed25519 public key material")
	id := cisid.FromPublicKey(pubKey)

	require.NoError(t, svc.Verify(id, pubKey))
	require.Error(t, svc.Verify(id, []byte("wrong key bytes")))
}

func TestNodeServiceStatsExposesLocalStoreUsage(t *testing.T) {
	svc, n := newTestNodeService(t)
	require.NoError(t, n.Put(context.Background(), "k", []byte("v"), time.Hour))

	stats := svc.Stats()
	require.Equal(t, 1, stats.TotalKeys)
}
