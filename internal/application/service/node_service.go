package service

import (
	"context"
	"sort"
	"sync"

	"github.com/cis-project/cis/internal/domain/kademlia"
	"github.com/cis-project/cis/internal/infrastructure/dht"
	"github.com/cis-project/cis/pkg/cisid"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// NodeService is spec.md §4.8's peer-facing facade: list peers, inspect,
// ping, bind (whitelist), block, verify, stats.
//
// Bind/block are a NodeService-level policy the DHT layer itself has no
// concept of (its Node/RoutingTable just route); they follow the same
// mutex-guarded allow/deny-set idiom internal/domain/sandbox.Policy uses
// for path whitelisting, applied here to peer ids instead of paths.
type NodeService struct {
	node *dht.Node

	mu      sync.RWMutex
	allowed map[cisid.NodeId]bool // non-empty => whitelist mode: Allowed admits only these
	blocked map[cisid.NodeId]bool
}

// NewNodeService wraps node.
func NewNodeService(node *dht.Node) *NodeService {
	return &NodeService{
		node:    node,
		allowed: map[cisid.NodeId]bool{},
		blocked: map[cisid.NodeId]bool{},
	}
}

// ListPeers returns every peer currently in the routing table.
func (s *NodeService) ListPeers(opts ListOptions) PaginatedResult[kademlia.NodeInfo] {
	peers := s.node.Table().AllNodes()
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID.String() < peers[j].ID.String() })
	return paginate(peers, opts)
}

// Inspect returns the routing-table entry for id.
func (s *NodeService) Inspect(id cisid.NodeId) (kademlia.NodeInfo, error) {
	info, ok := s.node.Table().Find(id)
	if !ok {
		return kademlia.NodeInfo{}, notFound("peer", id.String())
	}
	return info, nil
}

// Ping round-trips a PING/PONG to peer (spec.md §6).
func (s *NodeService) Ping(ctx context.Context, peer dht.Peer) error {
	return s.node.Ping(ctx, peer)
}

// Bind admits id to the allow-list. While the list is non-empty, Allowed
// reports true only for bound ids; the DHT node does not consult this
// list when routing (spec.md §4.8 "bind (whitelist)").
func (s *NodeService) Bind(id cisid.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[id] = true
}

// Block denies id outright, overriding any whitelist entry.
func (s *NodeService) Block(id cisid.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[id] = true
	delete(s.allowed, id)
}

// Allowed reports whether id may currently be routed to: not explicitly
// blocked, and — if a whitelist is in effect (the allow-list is
// currently non-empty) — explicitly bound.
func (s *NodeService) Allowed(id cisid.NodeId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blocked[id] {
		return false
	}
	if len(s.allowed) == 0 {
		return true
	}
	return s.allowed[id]
}

// Verify checks that pubKey actually derives id, the same SHA-256-
// truncate scheme pkg/cisid.FromPublicKey uses to mint every NodeId
// (spec.md §3 "NodeId ... derived from a node's public signing key").
func (s *NodeService) Verify(id cisid.NodeId, pubKey []byte) error {
	if !cisid.FromPublicKey(pubKey).Equal(id) {
		return cerr.Validation("public key does not derive claimed node id " + id.String())
	}
	return nil
}

// Stats exposes this node's local DHT store usage.
func (s *NodeService) Stats() dht.Stats {
	return s.node.Stats()
}
