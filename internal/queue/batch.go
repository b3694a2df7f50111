package queue

import (
	"context"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
)

// SendBatch enqueues every message in msgs atomically: either all fit
// within the configured capacity or none are enqueued (§4.11). IDs are
// assigned via nextID for any message that doesn't already have one.
func (q *Queue) SendBatch(msgs []*message.Message, nextID func() uint64) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now()
	for _, msg := range msgs {
		if msg.Header.ID == 0 {
			msg.Header.ID = nextID()
		}
		if msg.Header.OriginalQueue == "" {
			msg.Header.MaxRetries = q.Config.MaxRetries
			msg.Header.OriginalQueue = q.Config.Name
		}
		if q.Config.MessageTTL > 0 && msg.Header.ExpireAt.IsZero() {
			msg.Header.ExpireAt = now.Add(q.Config.MessageTTL)
		}
		if q.Config.CapacityBytes > 0 && byteSize(msg) > q.Config.CapacityBytes {
			return resultcode.New(resultcode.MessageTooLarge, q.Config.Name)
		}
	}

	q.mu.Lock()
	if q.Config.Capacity != Unbounded && q.Config.Capacity >= 0 && q.ready.len()+len(msgs) > q.Config.Capacity {
		q.mu.Unlock()
		return resultcode.New(resultcode.QueueFull, q.Config.Name)
	}
	for _, msg := range msgs {
		msg.Status = message.StatusSent
		q.ready.push(msg)
	}
	q.totalSent += uint64(len(msgs))
	q.enqueueWindow.observe(now)
	q.mu.Unlock()

	q.notifier.Notify(context.Background(), QueueType(q.Config.Name))
	return nil
}

// ReceiveBatch dequeues up to maxCount ready messages, blocking up to
// timeout for at least one message to become available. It returns
// fewer than maxCount messages if the queue empties before maxCount is
// reached; it never blocks again once at least one message has been
// collected.
func (q *Queue) ReceiveBatch(ctx context.Context, consumerID string, maxCount int, timeout time.Duration) ([]*message.Message, error) {
	first, err := q.Receive(ctx, consumerID, timeout)
	if err != nil {
		return nil, err
	}
	out := []*message.Message{first}
	for len(out) < maxCount {
		msg := q.tryReceive(consumerID)
		if msg == nil {
			break
		}
		out = append(out, msg)
	}
	return out, nil
}
