package broker

import "github.com/helianthus/broker/internal/cluster"

// ShardFor resolves which shard (and current leader node) a key maps
// to, consulting any explicit AssignQueue mapping before falling back
// to the consistent-hash ring (§4.8).
func (b *Broker) ShardFor(key string) (shardID int, nodeID string) {
	return b.cluster.ShardFor(key)
}

// Shard returns a snapshot of one shard's replica set, or nil if id is
// out of range.
func (b *Broker) Shard(id int) *cluster.ShardInfo {
	return b.cluster.Shard(id)
}

// SetNodeHealth marks a node healthy or unhealthy, triggering a leader
// promotion and the registered failover callbacks if the affected node
// was a shard leader (§4.8).
func (b *Broker) SetNodeHealth(nodeID string, healthy bool) {
	b.cluster.SetNodeHealth(nodeID, healthy)
}

// ReplicationEvents returns the total number of WAL entries appended
// across every shard since startup.
func (b *Broker) ReplicationEvents() uint64 {
	return b.cluster.ReplicationEvents()
}

// ReplicationAcksTotal returns the total number of follower
// acknowledgments observed across every Send's replication wait.
func (b *Broker) ReplicationAcksTotal() uint64 {
	return b.cluster.ReplicationAcksTotal()
}

// WALLag returns how far behind the write-ahead log's head nodeID's
// apply cursor is for shardID (§4.9).
func (b *Broker) WALLag(shardID int, nodeID string) uint64 {
	return b.wal.Lag(shardID, nodeID)
}

// AdvanceWALCursor records that nodeID has applied shardID's log up to
// and including index, simulating a follower catching up.
func (b *Broker) AdvanceWALCursor(shardID int, nodeID string, index uint64) {
	b.wal.AdvanceCursor(shardID, nodeID, index)
}
