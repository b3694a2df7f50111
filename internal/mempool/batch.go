// Package mempool's batch container implements §4.11's
// create_batch/add/commit/abort surface: messages accumulate in a
// batch and are enqueued atomically (in order, all-or-nothing at the
// batch-commit boundary) when committed.
package mempool

import (
	"sync"

	"github.com/helianthus/broker/internal/message"
)

// Batch accumulates messages destined for a single queue until
// committed or aborted.
type Batch struct {
	ID        uint64
	QueueName string

	mu       sync.Mutex
	messages []*message.Message
	done     bool
}

// NewBatch creates an empty batch for the given queue.
func NewBatch(id uint64, queueName string) *Batch {
	return &Batch{ID: id, QueueName: queueName}
}

// Add appends a message to the batch. Returns false if the batch was
// already committed or aborted.
func (b *Batch) Add(msg *message.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return false
	}
	b.messages = append(b.messages, msg)
	return true
}

// Len returns the number of messages currently staged in the batch.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Drain marks the batch as committed and returns its messages in
// insertion order. Calling Drain twice returns nil on the second call;
// the first Drain of an empty batch returns an empty, non-nil slice.
func (b *Batch) Drain() []*message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true
	out := b.messages
	if out == nil {
		out = []*message.Message{}
	}
	b.messages = nil
	return out
}

// Abort discards all staged messages without enqueuing them.
func (b *Batch) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	b.messages = nil
}

// Registry holds in-flight batches keyed by ID, guarding concurrent
// create_batch/add/commit/abort calls from multiple producer threads.
type Registry struct {
	mu      sync.Mutex
	batches map[uint64]*Batch
}

// NewRegistry creates an empty batch registry.
func NewRegistry() *Registry {
	return &Registry{batches: make(map[uint64]*Batch)}
}

// Create registers a new batch under id and returns it.
func (r *Registry) Create(id uint64, queueName string) *Batch {
	b := NewBatch(id, queueName)
	r.mu.Lock()
	r.batches[id] = b
	r.mu.Unlock()
	return b
}

// Get returns the batch for id, or nil if unknown.
func (r *Registry) Get(id uint64) *Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[id]
}

// Remove deletes the batch entry for id (called after commit/abort).
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	delete(r.batches, id)
	r.mu.Unlock()
}
