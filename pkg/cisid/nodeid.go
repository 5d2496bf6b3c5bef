// Package cisid implements the 160-bit NodeId and XOR-distance arithmetic
// used throughout the Kademlia DHT (spec.md §3 "NodeId", §4.4). Grounded on
// _examples/original_source/cis-core/src/p2p/kademlia/node_id.rs and
// distance.rs: a NodeId is derived from a node's Ed25519 public key by
// SHA-256-then-truncate, never from a non-cryptographic hash (spec.md §9's
// deprecated-dht_ops.rs warning applies here too).
package cisid

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Length is the NodeId size in bytes (160 bits).
const Length = 20

// Bits is the number of bits in a NodeId, and the number of buckets in a
// full routing table.
const Bits = Length * 8

// NodeId is a 160-bit opaque peer identifier.
type NodeId [Length]byte

// FromPublicKey derives a NodeId from an Ed25519 public key by truncating
// its SHA-256 digest to Length bytes.
func FromPublicKey(pub []byte) NodeId {
	sum := sha256.Sum256(pub)
	var id NodeId
	copy(id[:], sum[:Length])
	return id
}

// FromBytes copies b into a NodeId, erroring if the length doesn't match.
func FromBytes(b []byte) (NodeId, error) {
	var id NodeId
	if len(b) != Length {
		return id, fmt.Errorf("cisid: want %d bytes, got %d", Length, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String renders the NodeId as lowercase hex.
func (id NodeId) String() string { return hex.EncodeToString(id[:]) }

// Equal reports whether id and other are the same identifier, in constant
// time (identifiers gate authorization decisions elsewhere in the DHT).
func (id NodeId) Equal(other NodeId) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

// Bit returns the value of the bit at index (0 = most significant bit of
// byte 0), matching the original's big-endian bit order.
func (id NodeId) Bit(index int) int {
	byteIdx := index / 8
	bitIdx := 7 - uint(index%8)
	return int((id[byteIdx] >> bitIdx) & 1)
}

// Distance computes the XOR distance between id and other.
func (id NodeId) Distance(other NodeId) Distance {
	var d Distance
	for i := range id {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// BucketIndex returns the index of the highest differing bit between id
// and other — the routing-table bucket other belongs to from id's
// perspective. Returns Bits if id == other (no bucket; callers must reject
// inserting the local id into its own table, per spec.md §4.4).
func (id NodeId) BucketIndex(other NodeId) int {
	return id.Distance(other).LeadingZeroBits()
}

// Distance is the XOR of two NodeIds, ordered big-endian for Kademlia's
// "closer" comparison.
type Distance [Length]byte

// Less reports whether d represents a smaller distance than other.
func (d Distance) Less(other Distance) bool {
	for i := range d {
		if d[i] != other[i] {
			return d[i] < other[i]
		}
	}
	return false
}

// LeadingZeroBits returns the index (0-based, MSB-first) of the first set
// bit in d, or Bits if d is the zero distance (identical ids).
func (d Distance) LeadingZeroBits() int {
	for byteIdx, b := range d {
		if b == 0 {
			continue
		}
		for bitIdx := 0; bitIdx < 8; bitIdx++ {
			if b&(0x80>>uint(bitIdx)) != 0 {
				return byteIdx*8 + bitIdx
			}
		}
	}
	return Bits
}
