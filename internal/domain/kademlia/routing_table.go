package kademlia

import (
	"math/rand"
	"sort"

	"github.com/cis-project/cis/pkg/cisid"
)

// RoutingTable is the full set of NumBuckets KBuckets for one local node,
// grounded on routing_table.rs's RoutingTable.
type RoutingTable struct {
	localID cisid.NodeId
	buckets []*KBucket
}

// NewRoutingTable builds an empty routing table for localID.
func NewRoutingTable(localID cisid.NodeId) *RoutingTable {
	buckets := make([]*KBucket, NumBuckets)
	for i := range buckets {
		buckets[i] = NewKBucket()
	}
	return &RoutingTable{localID: localID, buckets: buckets}
}

// bucketIndex maps a peer id to its bucket via the local node's
// BucketIndex (pkg/cisid.NodeId.BucketIndex), clamped into range exactly
// as the original clamps leading_zeros() against NUM_BUCKETS-1.
func (t *RoutingTable) bucketIndex(id cisid.NodeId) int {
	idx := t.localID.BucketIndex(id)
	if idx >= NumBuckets {
		return NumBuckets - 1
	}
	return idx
}

// Insert adds node to its bucket, refusing to insert the local node
// itself.
func (t *RoutingTable) Insert(node NodeInfo) bool {
	if node.ID.Equal(t.localID) {
		return false
	}
	return t.buckets[t.bucketIndex(node.ID)].Insert(node)
}

// Remove evicts id from its bucket.
func (t *RoutingTable) Remove(id cisid.NodeId) (NodeInfo, bool) {
	return t.buckets[t.bucketIndex(id)].Remove(id)
}

// Find looks up id in its bucket.
func (t *RoutingTable) Find(id cisid.NodeId) (NodeInfo, bool) {
	return t.buckets[t.bucketIndex(id)].Find(id)
}

// Bucket returns the bucket at index, or nil if out of range.
func (t *RoutingTable) Bucket(index int) *KBucket {
	if index < 0 || index >= len(t.buckets) {
		return nil
	}
	return t.buckets[index]
}

// TotalNodes sums the length of every bucket.
func (t *RoutingTable) TotalNodes() int {
	total := 0
	for _, b := range t.buckets {
		total += b.Len()
	}
	return total
}

// FindClosest returns up to k nodes across every bucket sorted by XOR
// distance to target (used to answer FIND_NODE, spec.md §6).
func (t *RoutingTable) FindClosest(target cisid.NodeId, k int) []NodeInfo {
	all := t.allNodes()
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.Distance(target).Less(all[j].ID.Distance(target))
	})
	if k < len(all) {
		all = all[:k]
	}
	return all
}

// RandomNodes returns up to count nodes chosen uniformly at random across
// every bucket, for anti-entropy / gossip-style bucket-refresh sweeps
// (SPEC_FULL.md §C, grounded on routing_table.rs's random_nodes).
func (t *RoutingTable) RandomNodes(count int) []NodeInfo {
	all := t.allNodes()
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if count < len(all) {
		all = all[:count]
	}
	return all
}

// AllNodes returns every peer currently held across all buckets
// (NodeService.ListPeers, spec.md §4.8).
func (t *RoutingTable) AllNodes() []NodeInfo {
	return t.allNodes()
}

func (t *RoutingTable) allNodes() []NodeInfo {
	var all []NodeInfo
	for _, b := range t.buckets {
		all = append(all, b.Nodes()...)
	}
	return all
}
