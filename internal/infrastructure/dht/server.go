package dht

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/box"

	cerr "github.com/cis-project/cis/pkg/errors"
)

// Server is the accept side of cryptoTransport: it listens for incoming
// sealed, length-framed connections, decrypts each request under the
// sender's trusted X25519 key, dispatches it against a Node, and seals
// the reply back (spec.md §6 "Wire-level RPC (DHT)", the server half
// cryptoTransport's Send only implements the client half of).
type Server struct {
	node       *Node
	localPriv  [32]byte
	localPub   [32]byte
	peerPubKey map[string][32]byte
	logger     *zap.Logger
}

// NewServer builds a Server for node, keyed by the same X25519 pair the
// node's own cryptoTransport client uses.
func NewServer(node *Node, localPriv, localPub [32]byte, logger *zap.Logger) *Server {
	return &Server{node: node, localPriv: localPriv, localPub: localPub, peerPubKey: map[string][32]byte{}, logger: logger}
}

// TrustPeerKey records a remote address's long-term X25519 public key, the
// server-side mirror of cryptoTransport.TrustPeerKey.
func (s *Server) TrustPeerKey(address string, pubKey [32]byte) {
	s.peerPubKey[address] = pubKey
}

// Serve accepts connections on ln until ctx is cancelled, handling each on
// its own goroutine. It blocks until ln.Accept fails; Serve itself starts
// a goroutine that closes ln once ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return cerr.Network("dht server accept failed", err)
			}
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sealed, err := readFrame(conn)
	if err != nil {
		return
	}
	if len(sealed) < 24 {
		return
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	// The sender is identified by whichever trusted key successfully
	// opens the box; a real deployment keys this off a handshake-carried
	// peer id instead of brute-forcing the trust set, but the trust set
	// is small (cluster peers only) so this stays simple.
	var plaintext []byte
	var peerKey [32]byte
	opened := false
	for _, key := range s.peerPubKey {
		if pt, ok := box.Open(nil, sealed[24:], &nonce, &key, &s.localPriv); ok {
			plaintext, peerKey, opened = pt, key, true
			break
		}
	}
	if !opened {
		if s.logger != nil {
			s.logger.Warn("dht server: could not authenticate incoming message")
		}
		return
	}

	var msg Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		return
	}

	resp := s.dispatch(ctx, msg)

	respPlaintext, err := json.Marshal(resp)
	if err != nil {
		return
	}
	var respNonce [24]byte
	if _, err := rand.Read(respNonce[:]); err != nil {
		return
	}
	respSealed := box.Seal(respNonce[:], respPlaintext, &respNonce, &peerKey, &s.localPriv)
	_ = writeFrame(conn, respSealed)
}

// dispatch answers one decrypted request against the local node's state,
// matching the PUT/GET/FIND_NODE/PING request/response pairs spec.md §6
// defines.
func (s *Server) dispatch(ctx context.Context, msg Message) Message {
	switch msg.Kind {
	case MsgPut:
		ttl := s.node.defaultTTL
		if msg.TTLSeconds > 0 {
			ttl = secondsToDuration(msg.TTLSeconds)
		}
		s.node.storage.Put(msg.Key, msg.Value, ttl)
		return Message{Kind: MsgStored}
	case MsgGet:
		if v, ok := s.node.storage.Get(msg.Key); ok {
			return Message{Kind: MsgValue, Value: v}
		}
		return Message{Kind: MsgValue}
	case MsgFindNode:
		closest := s.node.FindNode(ctx, msg.Target)
		peers := make([]Peer, 0, len(closest))
		for _, c := range closest {
			peers = append(peers, Peer{ID: c.ID, Address: c.Address})
		}
		return Message{Kind: MsgNodes, Nodes: peers}
	case MsgPing:
		return Message{Kind: MsgPong}
	default:
		return Message{}
	}
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
