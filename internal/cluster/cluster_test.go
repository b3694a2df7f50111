package cluster

import (
	"sync"
	"testing"
)

func TestShardForUsesExplicitAssignment(t *testing.T) {
	c := New([]string{"node-a", "node-b"}, 2, 8)
	c.AssignQueue("orders", 1)

	shardID, nodeID := c.ShardFor("orders")
	if shardID != 1 {
		t.Fatalf("expected shard 1, got %d", shardID)
	}
	if nodeID == "" {
		t.Fatal("expected a leader node id")
	}
}

func TestShardForFallsBackToRingBucket(t *testing.T) {
	c := New([]string{"node-a", "node-b"}, 2, 8)
	shardID, _ := c.ShardFor("unmapped_queue")
	if shardID < 0 || shardID >= 2 {
		t.Fatalf("expected shard in [0,2), got %d", shardID)
	}
}

func TestFailoverPromotesHealthyFollowerAndFiresCallbacks(t *testing.T) {
	c := New([]string{"node-a", "node-b"}, 1, 8)
	shard := c.Shard(0)
	oldLeader := shard.Leader()
	if oldLeader == "" {
		t.Fatal("expected an initial leader")
	}

	var mu sync.Mutex
	var leaderChanges, failovers int
	c.OnLeaderChange(func(shardID int, oldL, newL string) {
		mu.Lock()
		leaderChanges++
		mu.Unlock()
		if oldL != oldLeader {
			t.Errorf("expected old leader %s, got %s", oldLeader, oldL)
		}
	})
	c.OnFailover(func(shardID int, failedNode string) {
		mu.Lock()
		failovers++
		mu.Unlock()
		if failedNode != oldLeader {
			t.Errorf("expected failed node %s, got %s", oldLeader, failedNode)
		}
	})

	c.SetNodeHealth(oldLeader, false)

	mu.Lock()
	defer mu.Unlock()
	if leaderChanges != 1 || failovers != 1 {
		t.Fatalf("expected exactly one leader change and one failover, got %d/%d", leaderChanges, failovers)
	}

	newShard := c.Shard(0)
	if newShard.Leader() == oldLeader {
		t.Fatal("expected a new leader after failover")
	}
}

func TestFailoverWithNoHealthyFollowerDoesNotPromote(t *testing.T) {
	c := New([]string{"node-a"}, 1, 8)
	var fired bool
	c.OnFailover(func(shardID int, failedNode string) { fired = true })

	c.SetNodeHealth("node-a", false)
	if fired {
		t.Fatal("expected no failover callback when no healthy follower exists")
	}
	if c.Shard(0).Leader() != "node-a" {
		t.Fatal("expected the unhealthy leader to remain leader with no replacement available")
	}
}

func TestConsistentHashRoutingStableAcrossFailover(t *testing.T) {
	c := New([]string{"node-a", "node-b"}, 2, 32)
	shard0Leader := c.Shard(0).Leader()
	shard1Leader := c.Shard(1).Leader()
	if shard0Leader == shard1Leader {
		t.Skip("round-robin assignment happened to collapse to one leader, not exercising failover")
	}

	c.SetNodeHealth(shard1Leader, false)
	shardID, node := c.ShardFor("user_1")
	if shardID != c.ring.bucket("user_1", 2) {
		t.Fatalf("shard assignment for an unmapped key should be stable: got shard %d", shardID)
	}
	if node == shard1Leader {
		t.Fatal("expected routing to avoid the now-unhealthy former leader")
	}
}

func TestRecordReplicationCounters(t *testing.T) {
	c := New([]string{"node-a"}, 1, 8)
	c.RecordReplicationEvent()
	c.RecordReplicationEvent()
	c.RecordReplicationAcks(3)

	if c.ReplicationEvents() != 2 {
		t.Fatalf("expected 2 replication events, got %d", c.ReplicationEvents())
	}
	if c.ReplicationAcksTotal() != 3 {
		t.Fatalf("expected 3 replication acks, got %d", c.ReplicationAcksTotal())
	}
}

func TestHeartbeatTickZeroProbabilityIsNoop(t *testing.T) {
	c := New([]string{"node-a", "node-b"}, 1, 8)
	c.SetHeartbeatFlapProbability(0)
	c.HeartbeatTick()
	if !c.Shard(0).Replicas[0].Healthy {
		t.Fatal("expected no health flap with probability 0")
	}
}

func TestRingAddRemoveNodeRedistributes(t *testing.T) {
	r := newRing(16)
	r.addNode("node-a")
	before := r.nodeFor("some-key")
	if before != "node-a" {
		t.Fatalf("expected sole node to own every key, got %s", before)
	}
	r.addNode("node-b")
	r.removeNode("node-a")
	after := r.nodeFor("some-key")
	if after != "node-b" {
		t.Fatalf("expected node-b to own every key after node-a removal, got %s", after)
	}
}
