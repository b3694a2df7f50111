package cluster

import (
	"hash/fnv"
	"sort"
	"strconv"
)

// DefaultVirtualNodes is the ring's default virtual-node factor per
// node (§3 Shard & Replica), balancing routing uniformity against ring
// rebuild cost.
const DefaultVirtualNodes = 128

// ring is a consistent-hash ring over node IDs. Each node occupies
// virtualNodes points on the ring; routing a key walks clockwise to
// the first point at or past the key's hash.
type ring struct {
	virtualNodes int
	points       []uint32
	pointToNode  map[uint32]string
	nodes        map[string]bool
}

func newRing(virtualNodes int) *ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &ring{
		virtualNodes: virtualNodes,
		pointToNode:  make(map[uint32]string),
		nodes:        make(map[string]bool),
	}
}

func hashKey(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// addNode inserts a node's virtual points into the ring.
func (r *ring) addNode(nodeID string) {
	if r.nodes[nodeID] {
		return
	}
	r.nodes[nodeID] = true
	for i := 0; i < r.virtualNodes; i++ {
		p := hashKey(nodeID + "#" + strconv.Itoa(i))
		r.pointToNode[p] = nodeID
		r.points = append(r.points, p)
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
}

// removeNode evicts a node's virtual points from the ring.
func (r *ring) removeNode(nodeID string) {
	if !r.nodes[nodeID] {
		return
	}
	delete(r.nodes, nodeID)
	kept := r.points[:0]
	for _, p := range r.points {
		if r.pointToNode[p] == nodeID {
			delete(r.pointToNode, p)
			continue
		}
		kept = append(kept, p)
	}
	r.points = kept
}

// nodeFor returns the node owning key's position on the ring, or ""
// if the ring is empty.
func (r *ring) nodeFor(key string) string {
	if len(r.points) == 0 {
		return ""
	}
	h := hashKey(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return r.pointToNode[r.points[idx]]
}

// bucket returns a deterministic, evenly distributed bucket index in
// [0, mod) for key, derived from the ring's hash function. Used to
// assign unmapped queues to a shard via modulo shard_count.
func (r *ring) bucket(key string, mod int) int {
	if mod <= 0 {
		return 0
	}
	return int(hashKey(key) % uint32(mod))
}
