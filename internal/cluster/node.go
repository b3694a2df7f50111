// Package cluster implements the broker's sharded-replication router
// (C9, §4.8): a consistent-hash ring for queue-to-node routing, a
// shard table tracking leader/follower/candidate roles, node health
// tracking, and leader-change/failover callbacks.
package cluster

import "time"

// Role is a replica's position within its shard's replica set.
type Role string

const (
	RoleLeader    Role = "LEADER"
	RoleFollower  Role = "FOLLOWER"
	RoleCandidate Role = "CANDIDATE"
)

// Node is a cluster member identified by ID. Health is tracked
// independently of shard assignment: a node can host replicas for
// several shards at once.
type Node struct {
	ID            string
	Healthy       bool
	LastHeartbeat time.Time
}

// IsHealthy reports whether the node has been marked healthy.
func (n *Node) IsHealthy() bool {
	return n != nil && n.Healthy
}
