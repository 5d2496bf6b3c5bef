package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/kademlia"
	"github.com/cis-project/cis/pkg/cisid"
)

// fakeTransport answers every GET with a canned value, simulating a peer
// that already holds the key, so Node.Get's fan-out logic can be tested
// without a real network.
type fakeTransport struct {
	values map[string][]byte
}

func (f *fakeTransport) Send(ctx context.Context, peer Peer, msg Message) (Message, error) {
	switch msg.Kind {
	case MsgGet:
		if v, ok := f.values[msg.Key]; ok {
			return Message{Kind: MsgValue, Value: v}, nil
		}
		return Message{Kind: MsgValue}, nil
	case MsgPut:
		f.values[msg.Key] = msg.Value
		return Message{Kind: MsgStored}, nil
	case MsgPing:
		return Message{Kind: MsgPong}, nil
	default:
		return Message{}, nil
	}
}

func newTestID(b byte) cisid.NodeId {
	raw := make([]byte, cisid.Length)
	raw[0] = b
	id, _ := cisid.FromBytes(raw)
	return id
}

func TestNodeGetReturnsLocalValueWithoutNetwork(t *testing.T) {
	local := newTestID(0)
	table := kademlia.NewRoutingTable(local)
	storage := NewLocalStorage(time.Hour)
	n := NewNode(local, table, storage, &fakeTransport{values: map[string][]byte{}}, 3, time.Hour, nil)

	require.NoError(t, n.Put(context.Background(), "k1", []byte("v1"), 0))

	v, err := n.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}

func TestNodeGetFallsBackToPeerWhenNotLocal(t *testing.T) {
	local := newTestID(0)
	table := kademlia.NewRoutingTable(local)
	table.Insert(kademlia.NewNodeInfo(newTestID(1), "peer1:9000"))

	transport := &fakeTransport{values: map[string][]byte{"remote-key": []byte("remote-value")}}
	storage := NewLocalStorage(time.Hour)
	n := NewNode(local, table, storage, transport, 3, time.Hour, nil)

	v, err := n.Get(context.Background(), "remote-key")
	require.NoError(t, err)
	require.Equal(t, []byte("remote-value"), v)
}

func TestNodeGetNotFoundWithoutPeersOrLocalValue(t *testing.T) {
	local := newTestID(0)
	table := kademlia.NewRoutingTable(local)
	storage := NewLocalStorage(time.Hour)
	n := NewNode(local, table, storage, &fakeTransport{values: map[string][]byte{}}, 3, time.Hour, nil)

	_, err := n.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestNodePingSuccess(t *testing.T) {
	local := newTestID(0)
	table := kademlia.NewRoutingTable(local)
	storage := NewLocalStorage(time.Hour)
	n := NewNode(local, table, storage, &fakeTransport{values: map[string][]byte{}}, 3, time.Hour, nil)

	require.NoError(t, n.Ping(context.Background(), Peer{ID: newTestID(1), Address: "peer1:9000"}))
}

func TestNodeSweepDelegatesToStorage(t *testing.T) {
	local := newTestID(0)
	table := kademlia.NewRoutingTable(local)
	storage := NewLocalStorage(10 * time.Millisecond)
	n := NewNode(local, table, storage, &fakeTransport{values: map[string][]byte{}}, 3, time.Hour, nil)

	require.NoError(t, n.Put(context.Background(), "k1", []byte("v1"), 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, n.Sweep())
}
