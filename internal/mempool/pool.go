// Package mempool implements the broker's performance fast path (C2,
// §4.11): a fixed-block memory pool, zero-copy payload buffers, and
// batch containers for atomic multi-message send/receive.
//
// # Design rationale
//
// This generalizes the teacher's internal/pool package — which pools
// warm VM instances behind a sync.RWMutex with atomic hit/miss-style
// counters — into a pool of fixed-size byte blocks. A single
// sync.Mutex guards the free list and block count and is taken by
// Allocate, Release and Snapshot alike; the hit/miss/direct counters
// are atomics, updated without taking the mutex.
//
// # Invariants
//
//   - blocksInUse + len(freeList) == totalBlocks after every mutation.
//   - totalBlocks never exceeds maxBlocks once maxBlocks > 0.
//   - A block returned by Allocate is never handed out a second time
//     until Release returns it to the free list.
package mempool

import (
	"sync"
	"sync/atomic"
)

const (
	// DefaultBlockSize is the fixed size of a pooled block in bytes.
	DefaultBlockSize = 4096
	// DefaultGrowthFactor controls how fast the pool grows when the
	// free list is exhausted: each growth step adds
	// totalBlocks * (GrowthFactor-1) new blocks, truncated to an
	// integer and at least 1.
	DefaultGrowthFactor = 1.5
)

// Pool is a fixed-block allocator with geometric growth up to a
// configured cap. Allocations larger than BlockSize bypass the pool
// and are served as direct allocations (not tracked in the free list).
type Pool struct {
	BlockSize    int
	GrowthFactor float64
	MaxBlocks    int // 0 == unbounded

	mu        sync.Mutex
	freeList  [][]byte
	totalBlocks int

	hits   atomic.Int64
	misses atomic.Int64
	direct atomic.Int64
}

// New creates a memory pool. Zero-valued fields take the documented
// defaults.
func New(blockSize int, growthFactor float64, maxBlocks int) *Pool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if growthFactor <= 1.0 {
		growthFactor = DefaultGrowthFactor
	}
	return &Pool{
		BlockSize:    blockSize,
		GrowthFactor: growthFactor,
		MaxBlocks:    maxBlocks,
	}
}

// Allocate returns a byte slice of length size. Requests that fit
// within BlockSize are served from the pool (growing it if empty);
// larger requests are a direct, untracked allocation.
func (p *Pool) Allocate(size int) []byte {
	if size > p.BlockSize {
		p.direct.Add(1)
		return make([]byte, size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeList) == 0 {
		p.growLocked()
	}

	if len(p.freeList) == 0 {
		// Hit MaxBlocks; fall back to a direct allocation rather than
		// blocking the caller.
		p.misses.Add(1)
		p.direct.Add(1)
		return make([]byte, size, p.BlockSize)
	}

	block := p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]
	p.hits.Add(1)
	return block[:size]
}

// Release returns a pool-sized block to the free list. Blocks whose
// capacity does not match BlockSize (i.e. direct allocations) are
// silently dropped rather than pooled.
func (p *Pool) Release(block []byte) {
	if cap(block) != p.BlockSize {
		return
	}
	p.mu.Lock()
	p.freeList = append(p.freeList, block[:p.BlockSize])
	p.mu.Unlock()
}

// growLocked adds new blocks to the free list. Must be called with mu held.
func (p *Pool) growLocked() {
	if p.MaxBlocks > 0 && p.totalBlocks >= p.MaxBlocks {
		return
	}
	step := int(float64(p.totalBlocks) * (p.GrowthFactor - 1))
	if step < 1 {
		step = 1
	}
	if p.MaxBlocks > 0 && p.totalBlocks+step > p.MaxBlocks {
		step = p.MaxBlocks - p.totalBlocks
	}
	for i := 0; i < step; i++ {
		p.freeList = append(p.freeList, make([]byte, p.BlockSize))
	}
	p.totalBlocks += step
}

// Stats is a point-in-time snapshot of pool utilization.
type Stats struct {
	TotalBlocks int
	FreeBlocks  int
	Hits        int64
	Misses      int64
	Direct      int64
}

// Snapshot returns the current pool statistics.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalBlocks: p.totalBlocks,
		FreeBlocks:  len(p.freeList),
		Hits:        p.hits.Load(),
		Misses:      p.misses.Load(),
		Direct:      p.direct.Load(),
	}
}
