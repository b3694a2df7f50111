package cluster

// Replica is one member of a shard's ordered replica set.
type Replica struct {
	NodeID  string
	Role    Role
	Healthy bool
}

// ShardInfo is a routing bucket: an ordered replica set with exactly
// one LEADER at any time (§3 Shard & Replica).
type ShardInfo struct {
	ID       int
	Replicas []Replica
}

// Leader returns the node ID currently holding the LEADER role for
// this shard, or "" if none (should not happen once the cluster has
// been initialized with at least one node).
func (s *ShardInfo) Leader() string {
	for _, r := range s.Replicas {
		if r.Role == RoleLeader {
			return r.NodeID
		}
	}
	return ""
}

// HealthyFollowerCount returns the number of non-leader replicas
// currently marked healthy, the in-process stand-in for "acks" in the
// simulated replication model (§4.9).
func (s *ShardInfo) HealthyFollowerCount() int {
	n := 0
	for _, r := range s.Replicas {
		if r.Role != RoleLeader && r.Healthy {
			n++
		}
	}
	return n
}

func (s *ShardInfo) replicaIndex(nodeID string) int {
	for i, r := range s.Replicas {
		if r.NodeID == nodeID {
			return i
		}
	}
	return -1
}
