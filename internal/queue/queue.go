package queue

import (
	"context"
	"sync"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
)

// pending tracks a message that has been delivered but not yet
// acknowledged or rejected.
type pending struct {
	msg         *message.Message
	consumerID  string
	deliveredAt time.Time
}

// Stats is a point-in-time snapshot of a queue's depth and throughput
// (§4.7).
type Stats struct {
	Name            string
	Depth           int
	DeadLetterDepth int
	PendingAcks     int
	Consumers       int
	Producers       int

	TotalSent       uint64
	TotalReceived   uint64
	TotalAcked      uint64
	TotalRejected   uint64
	TotalExpired    uint64
	TotalDeadLettered uint64

	EnqueueRate float64 // messages/sec, trailing MetricsWindow
	DequeueRate float64

	LatencyP50  time.Duration
	LatencyP95  time.Duration
	LatencyMean time.Duration
}

// Queue is the broker's queue object (§3/§4.2): an ordered container
// of ready messages, a pending-ack map for in-flight deliveries, and a
// retry/dead-letter state machine.
type Queue struct {
	Config Config

	mu        sync.RWMutex
	ready     *container
	pendingMu sync.Mutex
	acks      map[uint64]*pending
	acked     map[uint64]struct{} // IDs already acknowledged, for repeated-ack detection

	consumers map[string]time.Time
	producers map[string]time.Time

	deadLetter *Queue // target DLQ, set by SetDeadLetterQueue

	enqueueWindow *rateWindow
	dequeueWindow *rateWindow
	latency       *latencyRing

	totalSent         uint64
	totalReceived     uint64
	totalAcked        uint64
	totalRejected     uint64
	totalExpired      uint64
	totalDeadLettered uint64

	notifier *ChannelNotifier
	closed   bool

	filter        FilterFunc
	routerTargets map[string]*Queue

	// onRetry, if set, hands a rejected-with-requeue message to the
	// facade's scheduler (C5) to re-enter the queue at NextRetryAt
	// instead of immediately rejoining the ready container. Unit tests
	// that exercise Queue standalone leave this nil, in which case the
	// message becomes immediately receivable (no delay simulation).
	onRetry func(msg *message.Message, at time.Time)

	// onDeadLetter, if set, notifies the facade's dead-letter monitor
	// and metrics registry every time a message is routed to the DLQ,
	// regardless of which path triggered it (retry exhaustion, explicit
	// reject, TTL expiry, or a full DLQ).
	onDeadLetter func(msg *message.Message)
}

// SetRetryHandler wires the callback invoked when a rejected message
// still has retries remaining. The facade sets this to hand the
// message to its scheduler so it reappears at NextRetryAt rather than
// immediately.
func (q *Queue) SetRetryHandler(fn func(msg *message.Message, at time.Time)) {
	q.mu.Lock()
	q.onRetry = fn
	q.mu.Unlock()
}

// SetDeadLetterHandler wires the callback invoked whenever a message is
// routed to the dead-letter queue.
func (q *Queue) SetDeadLetterHandler(fn func(msg *message.Message)) {
	q.mu.Lock()
	q.onDeadLetter = fn
	q.mu.Unlock()
}

// New creates a queue. cfg is normalized (defaults applied) before use.
func New(cfg Config) *Queue {
	cfg = cfg.Normalize()
	return &Queue{
		Config:        cfg,
		ready:         newContainer(cfg.PriorityEnabled || cfg.Type == TypePriority),
		acks:          make(map[uint64]*pending),
		acked:         make(map[uint64]struct{}),
		consumers:     make(map[string]time.Time),
		producers:     make(map[string]time.Time),
		enqueueWindow: newRateWindow(cfg.MetricsWindow),
		dequeueWindow: newRateWindow(cfg.MetricsWindow),
		latency:       newLatencyRing(cfg.LatencyRingCapacity),
		notifier:      NewChannelNotifier(),
	}
}

// SetDeadLetterQueue wires the target DLQ a message is routed to when
// it exhausts retries, expires, or is explicitly rejected without
// retry. Called once by the facade after both queues are created.
func (q *Queue) SetDeadLetterQueue(dlq *Queue) {
	q.mu.Lock()
	q.deadLetter = dlq
	q.mu.Unlock()
}

// Close releases the queue's notifier, waking any blocked receivers.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notifier.Close()
}

// byteSize approximates a message's footprint for CapacityBytes
// accounting: header overhead is not modeled, only the payload.
func byteSize(msg *message.Message) int64 {
	return int64(msg.Payload.Len())
}

// Send enqueues a message, assigning it an ID if unset. Returns
// QueueFull if the queue is at its configured capacity, or
// MessageTooLarge if CapacityBytes would be exceeded by this single
// message.
func (q *Queue) Send(msg *message.Message, nextID func() uint64) error {
	q.mu.RLock()
	filter := q.filter
	q.mu.RUnlock()
	if filter != nil && !filter(msg) {
		return resultcode.New(resultcode.InvalidParameter, q.Config.Name)
	}

	if msg.Header.ID == 0 {
		msg.Header.ID = nextID()
	}
	if msg.Header.OriginalQueue == "" {
		msg.Header.MaxRetries = q.Config.MaxRetries
		msg.Header.OriginalQueue = q.Config.Name
	}
	if q.Config.MessageTTL > 0 && msg.Header.ExpireAt.IsZero() {
		msg.Header.ExpireAt = time.Now().Add(q.Config.MessageTTL)
	}

	q.mu.Lock()
	if q.Config.Capacity != Unbounded && q.Config.Capacity >= 0 && q.ready.len() >= q.Config.Capacity {
		q.mu.Unlock()
		return resultcode.New(resultcode.QueueFull, q.Config.Name)
	}
	if q.Config.CapacityBytes > 0 && byteSize(msg) > q.Config.CapacityBytes {
		q.mu.Unlock()
		return resultcode.New(resultcode.MessageTooLarge, q.Config.Name)
	}
	msg.Status = message.StatusSent
	q.ready.push(msg)
	q.totalSent++
	q.enqueueWindow.observe(time.Now())
	q.mu.Unlock()

	q.notifier.Notify(context.Background(), QueueType(q.Config.Name))
	q.route(msg, nextID)
	return nil
}

// Receive dequeues the next ready message and marks it pending
// acknowledgment, blocking up to timeout if the queue is empty. A
// timeout of 0 means "return immediately if empty."
func (q *Queue) Receive(ctx context.Context, consumerID string, timeout time.Duration) (*message.Message, error) {
	if msg := q.tryReceive(consumerID); msg != nil {
		return msg, nil
	}
	if timeout <= 0 {
		return nil, resultcode.New(resultcode.MessageNotFound, q.Config.Name)
	}

	sub := q.notifier.Subscribe(ctx, QueueType(q.Config.Name))
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case _, ok := <-sub:
			if msg := q.tryReceive(consumerID); msg != nil {
				return msg, nil
			}
			if !ok {
				return nil, resultcode.New(resultcode.Timeout, q.Config.Name)
			}
		case <-deadline.C:
			return nil, resultcode.New(resultcode.Timeout, q.Config.Name)
		case <-ctx.Done():
			return nil, resultcode.New(resultcode.Timeout, q.Config.Name)
		}
	}
}

func (q *Queue) tryReceive(consumerID string) *message.Message {
	q.mu.Lock()
	msg := q.ready.pop()
	if msg == nil {
		q.mu.Unlock()
		return nil
	}
	msg.Status = message.StatusDelivered
	msg.DeliveredAt = time.Now()
	q.totalReceived++
	q.dequeueWindow.observe(msg.DeliveredAt)
	q.latency.observe(msg.DeliveredAt.Sub(msg.Header.CreatedAt))
	q.mu.Unlock()

	if msg.Header.DeliveryMode == message.AtLeastOnce || msg.Header.DeliveryMode == message.ExactlyOnce {
		q.pendingMu.Lock()
		q.acks[msg.Header.ID] = &pending{msg: msg, consumerID: consumerID, deliveredAt: msg.DeliveredAt}
		q.pendingMu.Unlock()
	}
	return msg
}

// Peek returns the next ready message without removing it, or nil if
// the queue is empty.
func (q *Queue) Peek() *message.Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ready.peek()
}

// Ack acknowledges successful processing of a delivered message,
// removing it from the pending-ack map. Returns InvalidState if the ID
// was already acked, and MessageNotFound if it has no pending delivery
// and was never acked (rejected, or never sent under an
// at-least/exactly-once mode).
func (q *Queue) Ack(messageID uint64) error {
	q.pendingMu.Lock()
	p, ok := q.acks[messageID]
	if ok {
		delete(q.acks, messageID)
		q.acked[messageID] = struct{}{}
	}
	_, alreadyAcked := q.acked[messageID]
	q.pendingMu.Unlock()
	if !ok {
		if alreadyAcked {
			return resultcode.New(resultcode.InvalidState, "message already acknowledged")
		}
		return resultcode.New(resultcode.MessageNotFound, "no pending delivery for message")
	}
	p.msg.Status = message.StatusAcknowledged
	q.mu.Lock()
	q.totalAcked++
	q.mu.Unlock()
	return nil
}

// Reject reports failed processing of a delivered message, driving the
// retry/dead-letter state machine (§4.2):
//
//   - If requeue is true and retries remain, the message's retry
//     count is incremented, its next-retry delay computed by
//     min(RetryDelay*BackoffMultiplier^(retryCount-1), MaxRetryDelay)
//     from the incremented count (so the first retry waits RetryDelay),
//     and NextRetryAt is set. With a retry handler attached (the
//     facade wires its scheduler), the message is handed to it and
//     re-enters the ready container at NextRetryAt; a queue with no
//     handler puts it back at the tail of the ready container at once.
//   - If requeue is false, or retries are exhausted, the message is
//     routed to the configured dead-letter queue (if any) with reason
//     set accordingly, or dropped if dead-lettering is disabled.
func (q *Queue) Reject(messageID uint64, requeue bool) error {
	q.pendingMu.Lock()
	p, ok := q.acks[messageID]
	if ok {
		delete(q.acks, messageID)
	}
	q.pendingMu.Unlock()
	if !ok {
		return resultcode.New(resultcode.MessageNotFound, "no pending delivery for message")
	}

	q.mu.Lock()
	q.totalRejected++
	q.mu.Unlock()

	msg := p.msg
	if requeue && msg.Header.RetryCount < msg.Header.MaxRetries {
		msg.Header.RetryCount++
		delay := q.retryDelay(msg.Header.RetryCount)
		msg.Header.NextRetryAt = time.Now().Add(delay)
		msg.Status = message.StatusFailed

		q.mu.Lock()
		onRetry := q.onRetry
		q.mu.Unlock()

		if onRetry != nil {
			onRetry(msg, msg.Header.NextRetryAt)
			return nil
		}
		q.mu.Lock()
		q.ready.push(msg)
		q.mu.Unlock()
		q.notifier.Notify(context.Background(), QueueType(q.Config.Name))
		return nil
	}

	reason := message.DeadLetterReasonMaxRetriesExceeded
	if !requeue {
		reason = message.DeadLetterReasonRejected
	}
	q.sendToDeadLetter(msg, reason)
	return nil
}

// Requeue re-enters a previously-rejected message into the ready
// container once its NextRetryAt has elapsed. Called by the
// scheduler's retry dispatch (C5).
func (q *Queue) Requeue(msg *message.Message) error {
	msg.Status = message.StatusSent
	q.mu.Lock()
	if q.Config.Capacity != Unbounded && q.Config.Capacity >= 0 && q.ready.len() >= q.Config.Capacity {
		q.mu.Unlock()
		q.sendToDeadLetter(msg, message.DeadLetterReasonQueueFull)
		return resultcode.New(resultcode.QueueFull, q.Config.Name)
	}
	q.ready.push(msg)
	q.mu.Unlock()
	q.notifier.Notify(context.Background(), QueueType(q.Config.Name))
	return nil
}

// retryDelay computes the exponential backoff delay for the given
// retry attempt (1-indexed), capped at MaxRetryDelay.
func (q *Queue) retryDelay(attempt int) time.Duration {
	d := float64(q.Config.RetryDelay)
	for i := 1; i < attempt; i++ {
		d *= q.Config.BackoffMultiplier
	}
	ceiling := float64(q.Config.MaxRetryDelay)
	if d > ceiling {
		d = ceiling
	}
	return time.Duration(d)
}

func (q *Queue) sendToDeadLetter(msg *message.Message, reason message.DeadLetterReason) {
	msg.Header.DeadLetterReason = reason
	msg.Status = message.StatusDeadLetter
	if q.Config.DeadLetterTTL > 0 {
		msg.Header.ExpireAt = time.Now().Add(q.Config.DeadLetterTTL)
	}

	q.mu.Lock()
	q.totalDeadLettered++
	dlq := q.deadLetter
	onDeadLetter := q.onDeadLetter
	q.mu.Unlock()

	if onDeadLetter != nil {
		onDeadLetter(msg)
	}

	if !q.Config.DeadLetterEnabled || dlq == nil {
		return
	}
	dlq.Send(msg, func() uint64 { return msg.Header.ID })
}

// ExpireNow sweeps the ready container for messages whose TTL has
// elapsed, routing each to the dead-letter queue with reason EXPIRED.
// Called periodically by the facade's background sweeper.
func (q *Queue) ExpireNow(now time.Time) int {
	var expired []*message.Message
	q.mu.Lock()
	q.ready.removeExpired(now, func(m *message.Message) {
		expired = append(expired, m)
	})
	q.totalExpired += uint64(len(expired))
	q.mu.Unlock()

	for _, m := range expired {
		q.sendToDeadLetter(m, message.DeadLetterReasonExpired)
	}
	return len(expired)
}

// Len returns the number of ready (not yet delivered) messages.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ready.len()
}

// RegisterConsumer adds a consumer to the registry, enforcing
// MaxConsumers (0 == unlimited).
func (q *Queue) RegisterConsumer(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.consumers[id]; !exists && q.Config.MaxConsumers > 0 && len(q.consumers) >= q.Config.MaxConsumers {
		return resultcode.New(resultcode.ConsumerLimitExceeded, q.Config.Name)
	}
	q.consumers[id] = time.Now()
	return nil
}

// UnregisterConsumer removes a consumer from the registry.
func (q *Queue) UnregisterConsumer(id string) {
	q.mu.Lock()
	delete(q.consumers, id)
	q.mu.Unlock()
}

// RegisterProducer adds a producer to the registry, enforcing
// MaxProducers (0 == unlimited).
func (q *Queue) RegisterProducer(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.producers[id]; !exists && q.Config.MaxProducers > 0 && len(q.producers) >= q.Config.MaxProducers {
		return resultcode.New(resultcode.OperationFailed, "producer limit exceeded for "+q.Config.Name)
	}
	q.producers[id] = time.Now()
	return nil
}

// UnregisterProducer removes a producer from the registry.
func (q *Queue) UnregisterProducer(id string) {
	q.mu.Lock()
	delete(q.producers, id)
	q.mu.Unlock()
}

// Stats returns a snapshot of the queue's current depth and rolling
// throughput/latency figures.
func (q *Queue) Stats() Stats {
	now := time.Now()
	q.mu.RLock()
	defer q.mu.RUnlock()

	q.pendingMu.Lock()
	pendingCount := len(q.acks)
	q.pendingMu.Unlock()

	dlqDepth := 0
	if q.deadLetter != nil {
		dlqDepth = q.deadLetter.Len()
	}

	return Stats{
		Name:              q.Config.Name,
		Depth:             q.ready.len(),
		DeadLetterDepth:   dlqDepth,
		PendingAcks:       pendingCount,
		Consumers:         len(q.consumers),
		Producers:         len(q.producers),
		TotalSent:         q.totalSent,
		TotalReceived:     q.totalReceived,
		TotalAcked:        q.totalAcked,
		TotalRejected:     q.totalRejected,
		TotalExpired:      q.totalExpired,
		TotalDeadLettered: q.totalDeadLettered,
		EnqueueRate:       q.enqueueWindow.rate(now),
		DequeueRate:       q.dequeueWindow.rate(now),
		LatencyP50:        q.latency.percentile(50),
		LatencyP95:        q.latency.percentile(95),
		LatencyMean:       q.latency.mean(),
	}
}
