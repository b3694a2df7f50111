package cluster

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helianthus/broker/internal/logging"
)

// LeaderChangeHandler is invoked whenever a shard's leader changes,
// whether via promotion after a failure or explicit reassignment.
type LeaderChangeHandler func(shardID int, oldLeader, newLeader string)

// FailoverHandler is invoked whenever a leader's health transitions to
// unhealthy and a promotion occurs.
type FailoverHandler func(shardID int, failedNode string)

// Cluster is the broker's shard router: node health, the shard table,
// and the consistent-hash ring used to assign unmapped queues to
// shards (§4.8).
type Cluster struct {
	mu sync.RWMutex

	nodes      map[string]*Node
	shards     []*ShardInfo
	shardCount int
	ring       *ring

	queueShardMap map[string]int // explicit queue -> shard assignment

	minReplicationAcks       int
	heartbeatFlapProbability float64

	leaderChangeHandlers []LeaderChangeHandler
	failoverHandlers     []FailoverHandler

	replicationEvents    atomic.Uint64
	replicationAcksTotal atomic.Uint64
}

// New builds a cluster with shardCount shards whose replica sets are
// assigned round-robin over nodeIDs (the first node in each shard's
// rotation becomes its initial leader). virtualNodes <= 0 uses
// DefaultVirtualNodes.
func New(nodeIDs []string, shardCount int, virtualNodes int) *Cluster {
	if shardCount <= 0 {
		shardCount = 1
	}
	c := &Cluster{
		nodes:         make(map[string]*Node),
		shards:        make([]*ShardInfo, shardCount),
		shardCount:    shardCount,
		ring:          newRing(virtualNodes),
		queueShardMap: make(map[string]int),
	}

	now := time.Now()
	for _, id := range nodeIDs {
		c.nodes[id] = &Node{ID: id, Healthy: true, LastHeartbeat: now}
		c.ring.addNode(id)
	}

	for i := 0; i < shardCount; i++ {
		shard := &ShardInfo{ID: i}
		n := len(nodeIDs)
		if n > 0 {
			for j := 0; j < n; j++ {
				nodeID := nodeIDs[(i+j)%n]
				role := RoleFollower
				if j == 0 {
					role = RoleLeader
				}
				shard.Replicas = append(shard.Replicas, Replica{NodeID: nodeID, Role: role, Healthy: true})
			}
		}
		c.shards[i] = shard
	}

	return c
}

// SetMinReplicationAcks sets cluster.min_replication_acks (§4.9/§6).
func (c *Cluster) SetMinReplicationAcks(n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	c.minReplicationAcks = n
	c.mu.Unlock()
}

// MinReplicationAcks returns the configured minimum ack count.
func (c *Cluster) MinReplicationAcks() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minReplicationAcks
}

// SetHeartbeatFlapProbability sets cluster.heartbeat.flap.prob (§6).
func (c *Cluster) SetHeartbeatFlapProbability(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	c.mu.Lock()
	c.heartbeatFlapProbability = p
	c.mu.Unlock()
}

// OnLeaderChange registers a callback fired whenever a shard's leader
// changes.
func (c *Cluster) OnLeaderChange(h LeaderChangeHandler) {
	c.mu.Lock()
	c.leaderChangeHandlers = append(c.leaderChangeHandlers, h)
	c.mu.Unlock()
}

// OnFailover registers a callback fired whenever a leader's health
// transitions to unhealthy and a promotion occurs.
func (c *Cluster) OnFailover(h FailoverHandler) {
	c.mu.Lock()
	c.failoverHandlers = append(c.failoverHandlers, h)
	c.mu.Unlock()
}

// AssignQueue records an explicit queue-name to shard-id mapping,
// overriding the ring's bucket-modulo fallback for that queue.
func (c *Cluster) AssignQueue(queueName string, shardID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if shardID < 0 || shardID >= c.shardCount {
		return
	}
	c.queueShardMap[queueName] = shardID
}

// ShardFor implements shard_for_key: it derives the shard either from
// an explicit queue assignment or from the ring's bucket modulo
// shard_count, then returns that shard's current leader node.
func (c *Cluster) ShardFor(key string) (shardID int, nodeID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sid, ok := c.queueShardMap[key]; ok {
		shardID = sid
	} else {
		shardID = c.ring.bucket(key, c.shardCount)
	}
	shard := c.shards[shardID]
	return shardID, shard.Leader()
}

// Shard returns a copy of shard id's current replica set, or nil if
// out of range.
func (c *Cluster) Shard(id int) *ShardInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id < 0 || id >= len(c.shards) {
		return nil
	}
	cp := *c.shards[id]
	cp.Replicas = append([]Replica(nil), c.shards[id].Replicas...)
	return &cp
}

// SetNodeHealth marks every replica hosted on nodeID healthy/unhealthy.
// When a LEADER replica transitions to unhealthy and a healthy
// follower is available, that follower is promoted and both the
// leader-change and failover callbacks fire.
func (c *Cluster) SetNodeHealth(nodeID string, healthy bool) {
	c.mu.Lock()
	node, ok := c.nodes[nodeID]
	if !ok {
		node = &Node{ID: nodeID}
		c.nodes[nodeID] = node
	}
	node.Healthy = healthy
	node.LastHeartbeat = time.Now()

	type promotion struct {
		shardID             int
		oldLeader, newLeader string
	}
	var promotions []promotion

	for _, shard := range c.shards {
		idx := shard.replicaIndex(nodeID)
		if idx < 0 {
			continue
		}
		shard.Replicas[idx].Healthy = healthy
		if healthy || shard.Replicas[idx].Role != RoleLeader {
			continue
		}
		// Leader just went unhealthy: promote the first healthy follower.
		for j := range shard.Replicas {
			if j == idx {
				continue
			}
			if shard.Replicas[j].Role == RoleFollower && shard.Replicas[j].Healthy {
				shard.Replicas[idx].Role = RoleFollower
				shard.Replicas[j].Role = RoleLeader
				promotions = append(promotions, promotion{shard.ID, nodeID, shard.Replicas[j].NodeID})
				break
			}
		}
	}

	leaderHandlers := append([]LeaderChangeHandler(nil), c.leaderChangeHandlers...)
	failoverHandlers := append([]FailoverHandler(nil), c.failoverHandlers...)
	c.mu.Unlock()

	for _, p := range promotions {
		logging.Op().Warn("shard leader failover", "shard", p.shardID, "old_leader", p.oldLeader, "new_leader", p.newLeader)
		for _, h := range leaderHandlers {
			h(p.shardID, p.oldLeader, p.newLeader)
		}
		for _, h := range failoverHandlers {
			h(p.shardID, p.oldLeader)
		}
	}
}

// HeartbeatTick runs one round of the heartbeat task: for every node,
// with probability heartbeat_flap_probability, toggles its health.
// This is a design affordance for exercising failover in tests, not a
// correctness primitive (§4.8).
func (c *Cluster) HeartbeatTick() {
	c.mu.RLock()
	prob := c.heartbeatFlapProbability
	ids := make([]string, 0, len(c.nodes))
	states := make(map[string]bool, len(c.nodes))
	for id, n := range c.nodes {
		ids = append(ids, id)
		states[id] = n.Healthy
	}
	c.mu.RUnlock()

	if prob <= 0 {
		return
	}
	for _, id := range ids {
		if rand.Float64() < prob {
			c.SetNodeHealth(id, !states[id])
		}
	}
}

// RecordReplicationEvent increments the replication_events counter,
// called once per WAL append.
func (c *Cluster) RecordReplicationEvent() {
	c.replicationEvents.Add(1)
}

// RecordReplicationAcks adds n to the replication_acks_total counter.
func (c *Cluster) RecordReplicationAcks(n int) {
	if n <= 0 {
		return
	}
	c.replicationAcksTotal.Add(uint64(n))
}

// ReplicationEvents returns the cumulative replication_events count.
func (c *Cluster) ReplicationEvents() uint64 {
	return c.replicationEvents.Load()
}

// ReplicationAcksTotal returns the cumulative replication_acks_total
// count.
func (c *Cluster) ReplicationAcksTotal() uint64 {
	return c.replicationAcksTotal.Load()
}

// HealthyFollowerAcks returns the number of currently healthy follower
// replicas for shardID, the in-process ack count a send
// blocks on until it reaches MinReplicationAcks.
func (c *Cluster) HealthyFollowerAcks(shardID int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if shardID < 0 || shardID >= len(c.shards) {
		return 0
	}
	return c.shards[shardID].HealthyFollowerCount()
}
