package dht

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cis-project/cis/internal/domain/kademlia"
	"github.com/cis-project/cis/pkg/cisid"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// Node is one participant in the cluster's DHT: a routing table, a local
// value store, and a Transport to reach peers. Operations fan out
// α-parallel across the closest known peers, matching spec.md §7's
// "Retries are handled exclusively at the executor layer... and at the
// DHT layer (α-parallel re-queries)".
type Node struct {
	id        cisid.NodeId
	table     *kademlia.RoutingTable
	storage   *LocalStorage
	transport Transport
	alpha     int
	defaultTTL time.Duration
	logger    *zap.Logger
}

// NewNode builds a Node. alpha is the DHT's parallelism factor (typically
// 3, per Kademlia convention).
func NewNode(id cisid.NodeId, table *kademlia.RoutingTable, storage *LocalStorage, transport Transport, alpha int, defaultTTL time.Duration, logger *zap.Logger) *Node {
	if alpha <= 0 {
		alpha = 3
	}
	return &Node{id: id, table: table, storage: storage, transport: transport, alpha: alpha, defaultTTL: defaultTTL, logger: logger}
}

// Put stores key=value locally and replicates it to the k closest known
// peers to key's derived id — k (kademlia.K), not α, since replication
// fan-out is a wider set than a query's read fan-out (spec.md §6
// "PUT{key, value, ttl}").
func (n *Node) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	n.storage.Put(key, value, ttl)

	target := keyToNodeID(key)
	infos := n.table.FindClosest(target, kademlia.K)
	if len(infos) == 0 {
		return nil // no peers yet to replicate to; local store still succeeded
	}
	peers := make([]Peer, 0, len(infos))
	for _, info := range infos {
		peers = append(peers, Peer{ID: info.ID, Address: info.Address})
	}

	ttlSeconds := int64(ttl.Seconds())
	if ttl <= 0 {
		ttlSeconds = int64(n.defaultTTL.Seconds())
	}
	msg := Message{Kind: MsgPut, Key: key, Value: value, TTLSeconds: ttlSeconds}

	var acked atomic.Uint32
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			_, err := n.transport.Send(gctx, p, msg)
			if err != nil {
				if n.logger != nil {
					n.logger.Warn("dht put replication failed", zap.String("peer", p.Address), zap.Error(err))
				}
				return nil // a single peer failing is non-fatal; Put already succeeded locally
			}
			acked.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if acked.Load() == 0 {
		return cerr.NoPeersReachable
	}
	return nil
}

// Get looks up key locally first, then queries the α closest peers in
// parallel, returning the first value found (spec.md §6 "GET{key}").
func (n *Node) Get(ctx context.Context, key string) ([]byte, error) {
	if value, ok := n.storage.Get(key); ok {
		return value, nil
	}

	target := keyToNodeID(key)
	peers := n.closestPeers(target)
	if len(peers) == 0 {
		return nil, cerr.NotFound("key " + key + " not found: no peers to query")
	}

	type result struct {
		value []byte
		found bool
	}
	results := make(chan result, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			resp, err := n.transport.Send(gctx, p, Message{Kind: MsgGet, Key: key})
			if err != nil {
				results <- result{}
				return nil
			}
			if resp.Kind == MsgValue {
				results <- result{value: resp.Value, found: true}
				return nil
			}
			results <- result{}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		if r.found {
			return r.value, nil
		}
	}
	return nil, cerr.NotFound("key " + key + " not found on any queried peer")
}

// FindNode returns up to kademlia.K peers closest to target from the
// local routing table; it does not query the network
// (spec.md §6 "FIND_NODE{target}").
func (n *Node) FindNode(ctx context.Context, target cisid.NodeId) []kademlia.NodeInfo {
	return n.table.FindClosest(target, kademlia.K)
}

// Ping probes peer's liveness (spec.md §6 "PING" / "PONG").
func (n *Node) Ping(ctx context.Context, peer Peer) error {
	resp, err := n.transport.Send(ctx, peer, Message{Kind: MsgPing})
	if err != nil {
		return err
	}
	if resp.Kind != MsgPong {
		return cerr.Network("peer did not respond with PONG", nil)
	}
	return nil
}

// Sweep evicts expired local entries; callers run this periodically
// (spec.md §3 "TTL-bounded entries, swept lazily").
func (n *Node) Sweep() int {
	return n.storage.Cleanup()
}

// Stats exposes the local store's usage (SPEC_FULL.md §C).
func (n *Node) Stats() Stats {
	return n.storage.StatsSnapshot()
}

// ID returns this node's own 160-bit identifier.
func (n *Node) ID() cisid.NodeId { return n.id }

// Table exposes the routing table backing this node, for NodeService's
// list/inspect/bind/block operations (spec.md §4.8).
func (n *Node) Table() *kademlia.RoutingTable { return n.table }

func (n *Node) closestPeers(target cisid.NodeId) []Peer {
	infos := n.table.FindClosest(target, n.alpha)
	peers := make([]Peer, 0, len(infos))
	for _, info := range infos {
		peers = append(peers, Peer{ID: info.ID, Address: info.Address})
	}
	return peers
}

// keyToNodeID derives a routing-table target id from a string key via the
// node identity's SHA-256-truncate scheme (pkg/cisid.FromPublicKey reused
// as a generic cryptographic hash, rather than a non-cryptographic
// std::collections::hash_map::DefaultHasher — spec.md §9's deprecated-
// dht_ops.rs ambiguity flags exactly this kind of shortcut).
func keyToNodeID(key string) cisid.NodeId {
	return cisid.FromPublicKey([]byte(key))
}
