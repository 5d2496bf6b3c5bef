package dht

import (
	"context"
	cryptorand "crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/cis-project/cis/internal/domain/kademlia"
)

func genBoxKeyPair(t *testing.T) (priv, pub [32]byte) {
	t.Helper()
	p, s, err := box.GenerateKey(cryptorand.Reader)
	require.NoError(t, err)
	return *s, *p
}

func TestServerHandlesPingOverRealTCP(t *testing.T) {
	serverPriv, serverPub := genBoxKeyPair(t)
	clientPriv, clientPub := genBoxKeyPair(t)

	local := newTestID(1)
	table := kademlia.NewRoutingTable(local)
	storage := NewLocalStorage(time.Hour)
	node := NewNode(local, table, storage, nil, 3, time.Hour, nil)

	srv := NewServer(node, serverPriv, serverPub, nil)
	srv.TrustPeerKey("client", clientPub)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	transport := NewCryptoTransport(clientPriv, clientPub, nil).(*cryptoTransport)
	transport.TrustPeerKey(ln.Addr().String(), serverPub)

	resp, err := transport.Send(context.Background(), Peer{Address: ln.Addr().String()}, Message{Kind: MsgPing})
	require.NoError(t, err)
	require.Equal(t, MsgPong, resp.Kind)
}

func TestServerHandlesPutThenGetOverRealTCP(t *testing.T) {
	serverPriv, serverPub := genBoxKeyPair(t)
	clientPriv, clientPub := genBoxKeyPair(t)

	local := newTestID(1)
	table := kademlia.NewRoutingTable(local)
	storage := NewLocalStorage(time.Hour)
	node := NewNode(local, table, storage, nil, 3, time.Hour, nil)

	srv := NewServer(node, serverPriv, serverPub, nil)
	srv.TrustPeerKey("client", clientPub)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	transport := NewCryptoTransport(clientPriv, clientPub, nil).(*cryptoTransport)
	transport.TrustPeerKey(ln.Addr().String(), serverPub)

	peer := Peer{Address: ln.Addr().String()}
	_, err = transport.Send(context.Background(), peer, Message{Kind: MsgPut, Key: "k1", Value: []byte("v1"), TTLSeconds: 3600})
	require.NoError(t, err)

	resp, err := transport.Send(context.Background(), peer, Message{Kind: MsgGet, Key: "k1"})
	require.NoError(t, err)
	require.Equal(t, MsgValue, resp.Kind)
	require.Equal(t, []byte("v1"), resp.Value)
}
