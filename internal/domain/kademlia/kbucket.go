// Package kademlia implements the routing-table half of CIS's DHT
// (spec.md §3 "KBucket / RoutingTable"): a fixed K=20, 160-bucket XOR
// routing table indexed by distance to the local node. Grounded directly
// on _examples/original_source/cis-core/src/p2p/kademlia/{kbucket.rs,
// routing_table.rs}, with the original's VecDeque replaced by a Go slice.
// A full bucket rejects new nodes; nothing is evicted to make room.
package kademlia

import (
	"sort"
	"time"

	"github.com/cis-project/cis/pkg/cisid"
)

// K is the maximum number of entries held per bucket (spec.md §3 "bounded
// size K=20").
const K = 20

// NumBuckets is the number of buckets in a routing table, one per
// possible distance class over a 160-bit id space (spec.md §3: "exactly
// 160 buckets indexed by XOR distance").
const NumBuckets = cisid.Bits

// NodeInfo is one routing-table entry (spec.md §3 "KBucket / RoutingTable":
// "{NodeId, address, last_seen}").
type NodeInfo struct {
	ID       cisid.NodeId
	Address  string
	LastSeen time.Time
}

// NewNodeInfo stamps LastSeen to now, mirroring the original's
// NodeInfo::new.
func NewNodeInfo(id cisid.NodeId, address string) NodeInfo {
	return NodeInfo{ID: id, Address: address, LastSeen: time.Now().UTC()}
}

// KBucket is a capacity-bounded, most-recently-seen-last ordered list of
// peers at one distance class. Grounded on kbucket.rs's KBucket, whose
// VecDeque push_back/remove-then-push_back dance is reproduced here with
// a plain Go slice: re-inserting a known node moves it to the back (most
// recently seen), and a full bucket refuses new unknown nodes rather than
// evicting (the original never implements Kademlia's classic "ping the
// head, evict on timeout" refresh — that policy lives one layer up, in
// the DHT's periodic bucket-refresh sweep, not in KBucket itself).
type KBucket struct {
	nodes    []NodeInfo
	capacity int
}

// NewKBucket builds a KBucket at the default capacity K.
func NewKBucket() *KBucket { return NewKBucketWithCapacity(K) }

// NewKBucketWithCapacity builds a KBucket holding at most capacity nodes.
func NewKBucketWithCapacity(capacity int) *KBucket {
	return &KBucket{capacity: capacity}
}

// Len reports the number of nodes currently held.
func (b *KBucket) Len() int { return len(b.nodes) }

// IsEmpty reports whether the bucket holds no nodes.
func (b *KBucket) IsEmpty() bool { return len(b.nodes) == 0 }

// IsFull reports whether the bucket is at capacity.
func (b *KBucket) IsFull() bool { return len(b.nodes) >= b.capacity }

// Nodes returns every node currently held, oldest-seen first.
func (b *KBucket) Nodes() []NodeInfo {
	out := make([]NodeInfo, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// Find returns the entry for id, if present.
func (b *KBucket) Find(id cisid.NodeId) (NodeInfo, bool) {
	for _, n := range b.nodes {
		if n.ID.Equal(id) {
			return n, true
		}
	}
	return NodeInfo{}, false
}

// Insert adds node, reporting whether it was accepted. A node already
// present is moved to the back (freshest); a new node is appended unless
// the bucket is full, in which case insertion is refused.
func (b *KBucket) Insert(node NodeInfo) bool {
	for i, n := range b.nodes {
		if n.ID.Equal(node.ID) {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.nodes = append(b.nodes, node)
			return true
		}
	}
	if b.IsFull() {
		return false
	}
	b.nodes = append(b.nodes, node)
	return true
}

// Remove evicts id, returning the removed entry if it was present.
func (b *KBucket) Remove(id cisid.NodeId) (NodeInfo, bool) {
	for i, n := range b.nodes {
		if n.ID.Equal(id) {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			return n, true
		}
	}
	return NodeInfo{}, false
}

// Closest returns up to count nodes from this bucket sorted by XOR
// distance to target.
func (b *KBucket) Closest(target cisid.NodeId, count int) []NodeInfo {
	sorted := make([]NodeInfo, len(b.nodes))
	copy(sorted, b.nodes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.Distance(target).Less(sorted[j].ID.Distance(target))
	})
	if count < len(sorted) {
		sorted = sorted[:count]
	}
	return sorted
}
