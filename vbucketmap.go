package lcbook

import "hash/crc32"

// cbCrc computes the legacy 32-bit CRC used to hash keys to vbuckets:
// (crc32(key) >> 16) & (numVbuckets - 1).
func cbCrc(key []byte) uint32 {
	return crc32.ChecksumIEEE(key)
}

// VBucketMap is an immutable snapshot of a Couchbase bucket's vbucket
// topology. A new snapshot is built whenever the Bootstrap Provider adopts
// a new cluster configuration; existing snapshots are never mutated, only
// replaced.
type VBucketMap struct {
	entries     [][]int
	numReplicas int
}

// NewVBucketMap builds a VBucketMap from the raw per-vbucket node-index
// lists found in a cluster configuration's vBucketMap field.
func NewVBucketMap(entries [][]int, numReplicas int) *VBucketMap {
	return &VBucketMap{entries: entries, numReplicas: numReplicas}
}

// IsValid reports whether the map has at least one vbucket with at least a
// master assigned.
func (m *VBucketMap) IsValid() bool {
	return len(m.entries) > 0 && len(m.entries[0]) > 0
}

// NumVbuckets returns the fixed vbucket count of this snapshot.
func (m *VBucketMap) NumVbuckets() int { return len(m.entries) }

// NumReplicas returns the fixed replica count of this snapshot.
func (m *VBucketMap) NumReplicas() int { return m.numReplicas }

// VbucketByKey hashes key to its owning vbucket index:
// vbucket = (crc32(key) >> 16) & (numVbuckets - 1).
func (m *VBucketMap) VbucketByKey(key []byte) uint16 {
	return uint16((cbCrc(key) >> 16) & uint32(len(m.entries)-1))
}

// nodeByVbucket returns the server index owning vbID at the given replica
// slot (0 = master).
func (m *VBucketMap) nodeByVbucket(vbID uint16, replicaID int) (int, error) {
	if int(vbID) >= len(m.entries) {
		return 0, ErrInvalidVBucket
	}
	if replicaID < 0 || replicaID >= len(m.entries[vbID]) {
		return 0, ErrInvalidReplica
	}
	node := m.entries[vbID][replicaID]
	if node < 0 {
		return 0, ErrNoReplica
	}
	return node, nil
}

// RouteMaster hashes key to its vbucket and returns (vbucket, masterNode).
func (m *VBucketMap) RouteMaster(key []byte) (uint16, int, error) {
	vb := m.VbucketByKey(key)
	node, err := m.nodeByVbucket(vb, 0)
	return vb, node, err
}

// RouteReplica returns the server index for the given vbucket's replica
// slot `which` (1-indexed, so which=1 is the first replica). Returns
// NoReplica if that slot is unpopulated in the current topology rather
// than an error.
func (m *VBucketMap) RouteReplica(vb uint16, which int) int {
	node, err := m.nodeByVbucket(vb, which)
	if err != nil {
		return NoReplica
	}
	return node
}

// NodeByKey hashes key and returns the server index at the given replica
// slot directly (0 = master).
func (m *VBucketMap) NodeByKey(key []byte, replicaID int) (int, error) {
	return m.nodeByVbucket(m.VbucketByKey(key), replicaID)
}
