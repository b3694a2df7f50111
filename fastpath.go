package broker

import (
	"context"
	"time"

	"github.com/helianthus/broker/internal/mempool"
	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
)

// newZeroCopyMessage builds a message whose payload references buf's
// bytes directly, mirroring message.New's header defaults without
// going through its []byte-copying constructor.
func newZeroCopyMessage(buf *mempool.ZeroCopyBuffer, msgType message.Type, priority message.Priority, mode message.DeliveryMode) *message.Message {
	now := time.Now()
	return &message.Message{
		Header: message.Header{
			Type:         msgType,
			Priority:     priority,
			DeliveryMode: mode,
			CreatedAt:    now,
			Properties:   make(map[string]string),
		},
		Payload:   buf.ToPayload(),
		Status:    message.StatusPending,
		Timestamp: now,
	}
}

// CreateBatch opens a new in-flight batch targeting queueName and
// returns its ID (§4.11's create_batch).
func (b *Broker) CreateBatch(queueName string) uint64 {
	id := b.nextBatchID.Add(1)
	b.batches.Create(id, queueName)
	return id
}

// AddToBatch stages msg into an open batch. Returns InvalidState if
// the batch was already committed, aborted, or never existed.
func (b *Broker) AddToBatch(batchID uint64, msg *message.Message) error {
	batch := b.batches.Get(batchID)
	if batch == nil {
		return resultcode.New(resultcode.InvalidState, "unknown batch")
	}
	if !batch.Add(msg) {
		return resultcode.New(resultcode.InvalidState, "batch already closed")
	}
	return nil
}

// CommitBatch sends every staged message atomically via SendBatch and
// releases the batch (§4.11's commit).
func (b *Broker) CommitBatch(ctx context.Context, batchID uint64) error {
	batch := b.batches.Get(batchID)
	if batch == nil {
		return resultcode.New(resultcode.InvalidState, "unknown batch")
	}
	msgs := batch.Drain()
	b.batches.Remove(batchID)
	if msgs == nil {
		return resultcode.New(resultcode.InvalidState, "batch already closed")
	}
	return b.SendBatch(ctx, batch.QueueName, msgs)
}

// AbortBatch discards every staged message in a batch without sending
// any of them (§4.11's abort).
func (b *Broker) AbortBatch(batchID uint64) error {
	batch := b.batches.Get(batchID)
	if batch == nil {
		return resultcode.New(resultcode.InvalidState, "unknown batch")
	}
	batch.Abort()
	b.batches.Remove(batchID)
	return nil
}

// CreateZeroCopyBuffer wraps externally-owned bytes for a zero-copy
// send (§4.11's create_buffer): the broker never copies data, only
// holds a reference and an optional release callback.
func (b *Broker) CreateZeroCopyBuffer(data []byte, dealloc func([]byte)) *mempool.ZeroCopyBuffer {
	return mempool.CreateBuffer(data, dealloc)
}

// SendZeroCopy sends a message whose payload references buf's bytes
// directly rather than a copy, for the memory-pool/zero-copy fast
// path (§4.11's send_zero_copy).
func (b *Broker) SendZeroCopy(ctx context.Context, queueName string, buf *mempool.ZeroCopyBuffer, msgType message.Type, priority message.Priority, mode message.DeliveryMode) error {
	start := time.Now()
	msg := newZeroCopyMessage(buf, msgType, priority, mode)
	err := b.Send(ctx, queueName, msg)
	b.metrics.ObserveZeroCopyDuration(time.Since(start))
	return err
}

// AllocateScratch borrows a scratch buffer of at least size bytes from
// the broker's memory pool (§4.11's pool allocate/release), for
// callers that build a payload in place before wrapping it for Send.
func (b *Broker) AllocateScratch(size int) []byte {
	return b.pool.Allocate(size)
}

// ReleaseScratch returns a scratch buffer previously obtained from
// AllocateScratch to the pool's free list.
func (b *Broker) ReleaseScratch(block []byte) {
	b.pool.Release(block)
}
