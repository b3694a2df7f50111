package broker

import (
	"context"
	"time"

	"github.com/helianthus/broker/internal/codec"
	"github.com/helianthus/broker/internal/deadletter"
	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/queue"
	"github.com/helianthus/broker/internal/resultcode"
)

// CreateQueue creates a named queue. Returns InvalidParameter if a
// queue by that name already exists. If opts.DeadLetterEnabled is set,
// the dead-letter sub-queue named opts.DeadLetterQueueName (or
// Name+"_DLQ") is created alongside it and wired automatically.
func (b *Broker) CreateQueue(name string, opts QueueOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.queues[name]; exists {
		return resultcode.New(resultcode.InvalidParameter, "queue already exists: "+name)
	}

	cfg := opts.toQueueConfig(name)
	q := queue.New(cfg)
	b.wireQueue(q)
	b.queues[name] = q

	if cfg.DeadLetterEnabled {
		dlqName := cfg.DeadLetterQueueName
		dlq, ok := b.queues[dlqName]
		if !ok {
			dlqCfg := cfg
			dlqCfg.Name = dlqName
			dlqCfg.Type = queue.TypeDeadLetter
			dlqCfg.DeadLetterEnabled = false
			dlq = queue.New(dlqCfg)
			b.wireQueue(dlq)
			b.queues[dlqName] = dlq
		}
		q.SetDeadLetterQueue(dlq)
	}

	if opts.Compression != codec.CompressionNone || opts.Encryption != codec.EncryptionNone {
		b.codecsMu.Lock()
		b.codecs[name] = codec.New(opts.Compression, opts.CompressionLevel, opts.Encryption, opts.EncryptionKey, opts.CompressionMinSize)
		b.codecsMu.Unlock()
	}

	if opts.ShardKey != "" {
		shardID, _ := b.cluster.ShardFor(opts.ShardKey)
		b.cluster.AssignQueue(name, shardID)
	}

	return nil
}

// wireQueue hooks a newly-created queue into the facade's retry
// scheduler, dead-letter monitor, and metrics registry. Must be called
// with b.mu held.
func (b *Broker) wireQueue(q *queue.Queue) {
	name := q.Config.Name
	q.SetRetryHandler(func(msg *message.Message, at time.Time) {
		b.sched.ScheduleRetry(q, msg, at)
	})
	q.SetDeadLetterHandler(func(msg *message.Message) {
		b.dlqMon.RecordDeadLetter(name, msg.Header.DeadLetterReason)
		b.metrics.RecordDeadLetter(name)
		b.fireQueueEvent(QueueEvent{Queue: name, MessageID: msg.Header.ID, Kind: "dead_letter", Detail: msg.Header.DeadLetterReason.String(), At: time.Now()})
	})
	b.dlqMon.Configure(defaultAlertConfig(name), func() int { return q.Stats().DeadLetterDepth })
}

// DeleteQueue removes a queue. In-flight consumers blocked on Receive
// are woken with an error as the queue's notifier is closed.
func (b *Broker) DeleteQueue(name string) error {
	b.mu.Lock()
	q, ok := b.queues[name]
	if !ok {
		b.mu.Unlock()
		return resultcode.New(resultcode.QueueNotFound, name)
	}
	delete(b.queues, name)
	b.mu.Unlock()

	q.Close()
	b.codecsMu.Lock()
	delete(b.codecs, name)
	b.codecsMu.Unlock()
	return nil
}

func (b *Broker) getQueue(name string) (*queue.Queue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[name]
	if !ok {
		return nil, resultcode.New(resultcode.QueueNotFound, name)
	}
	return q, nil
}

func (b *Broker) codecFor(name string) *codec.Pipeline {
	b.codecsMu.RLock()
	defer b.codecsMu.RUnlock()
	return b.codecs[name]
}

// Send enqueues msg on the named queue (§4.2). The message is
// compressed/encrypted per the queue's codec pipeline (if any) before
// it is appended to the write-ahead log and handed to the queue.
func (b *Broker) Send(ctx context.Context, queueName string, msg *message.Message) error {
	if b.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if !b.started.Load() {
		return ErrNotInitialized
	}
	ctx, end := startSpan(ctx, "broker.Send")
	defer end()

	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}

	nextID := b.nextMessageIDFunc()
	if msg.Header.ID == 0 {
		msg.Header.ID = nextID()
	}

	if pipeline := b.codecFor(queueName); pipeline != nil {
		if err := pipeline.Encode(msg); err != nil {
			return resultcode.New(resultcode.SerializationError, err.Error())
		}
	}

	shardID, _ := b.cluster.ShardFor(partitionKeyOf(msg, queueName))
	if _, err := b.wal.Append(shardID, msg.Header.ID, queueName); err != nil {
		wrapped := resultcode.New(resultcode.StorageError, err.Error())
		b.fireError(wrapped)
		return wrapped
	}
	b.cluster.RecordReplicationEvent()
	b.awaitReplicationAcks(shardID)

	if err := q.Send(msg, nextID); err != nil {
		return err
	}
	b.dlqMon.RecordSend(queueName)
	b.metrics.RecordSend(queueName)
	b.metrics.SetPending(queueName, q.Len())
	b.fireQueueEvent(QueueEvent{Queue: queueName, MessageID: msg.Header.ID, Kind: "sent", At: time.Now()})
	return nil
}

// partitionKeyOf returns the sharding key for msg: its explicit
// partition_key property if set, otherwise the destination queue name
// (every message on the same queue then routes to the same shard).
func partitionKeyOf(msg *message.Message, queueName string) string {
	if k, ok := msg.GetProperty(message.PropPartitionKey); ok && k != "" {
		return k
	}
	return queueName
}

// awaitReplicationAcks blocks briefly for shardID's healthy followers
// to reach the configured minimum acknowledgment count (§4.8).
// Replication here is simulated in-process with no real network
// delay, so this is a bounded poll rather than an indefinite wait: a
// request for more acks than healthy followers exist would otherwise
// deadlock every Send on that shard.
func (b *Broker) awaitReplicationAcks(shardID int) {
	want := b.cluster.MinReplicationAcks()
	if want <= 0 {
		return
	}
	deadline := time.Now().Add(50 * time.Millisecond)
	for {
		acks := b.cluster.HealthyFollowerAcks(shardID)
		if acks >= want {
			b.cluster.RecordReplicationAcks(acks)
			return
		}
		if time.Now().After(deadline) {
			b.cluster.RecordReplicationAcks(acks)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Receive dequeues the next ready message from the named queue,
// blocking up to timeout if it is empty. The message is decoded
// (decrypted/decompressed) before being returned.
func (b *Broker) Receive(ctx context.Context, queueName, consumerID string, timeout time.Duration) (*message.Message, error) {
	ctx, end := startSpan(ctx, "broker.Receive")
	defer end()

	q, err := b.getQueue(queueName)
	if err != nil {
		return nil, err
	}
	msg, err := q.Receive(ctx, consumerID, timeout)
	if err != nil {
		return nil, err
	}
	if pipeline := b.codecFor(queueName); pipeline != nil {
		if err := pipeline.Decode(msg); err != nil {
			return nil, resultcode.New(resultcode.SerializationError, err.Error())
		}
	}
	b.metrics.RecordProcessed(queueName)
	b.metrics.SetPending(queueName, q.Len())
	b.fireQueueEvent(QueueEvent{Queue: queueName, MessageID: msg.Header.ID, Kind: "delivered", At: time.Now()})
	return msg, nil
}

// Peek returns the next ready message on a queue without removing it.
func (b *Broker) Peek(queueName string) (*message.Message, error) {
	q, err := b.getQueue(queueName)
	if err != nil {
		return nil, err
	}
	return q.Peek(), nil
}

// Ack acknowledges a delivered message (§4.2).
func (b *Broker) Ack(queueName string, messageID uint64) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	if err := q.Ack(messageID); err != nil {
		return err
	}
	b.fireQueueEvent(QueueEvent{Queue: queueName, MessageID: messageID, Kind: "acked", At: time.Now()})
	return nil
}

// Reject reports failed processing of a delivered message, driving
// the retry/dead-letter state machine (§4.2).
func (b *Broker) Reject(queueName string, messageID uint64, requeue bool) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	if err := q.Reject(messageID, requeue); err != nil {
		return err
	}
	b.fireQueueEvent(QueueEvent{Queue: queueName, MessageID: messageID, Kind: "rejected", At: time.Now()})
	return nil
}

// SendBatch enqueues every message atomically (§4.11).
func (b *Broker) SendBatch(ctx context.Context, queueName string, msgs []*message.Message) error {
	start := time.Now()
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}

	nextID := b.nextMessageIDFunc()
	pipeline := b.codecFor(queueName)
	shardsSeen := make(map[int]bool)
	for _, msg := range msgs {
		if msg.Header.ID == 0 {
			msg.Header.ID = nextID()
		}
		if pipeline != nil {
			if err := pipeline.Encode(msg); err != nil {
				return resultcode.New(resultcode.SerializationError, err.Error())
			}
		}
		shardID, _ := b.cluster.ShardFor(partitionKeyOf(msg, queueName))
		if _, err := b.wal.Append(shardID, msg.Header.ID, queueName); err != nil {
			wrapped := resultcode.New(resultcode.StorageError, err.Error())
			b.fireError(wrapped)
			return wrapped
		}
		b.cluster.RecordReplicationEvent()
		shardsSeen[shardID] = true
	}
	for shardID := range shardsSeen {
		b.awaitReplicationAcks(shardID)
	}

	if err := q.SendBatch(msgs, nextID); err != nil {
		return err
	}
	b.metrics.RecordBatchCommit(queueName, len(msgs))
	b.metrics.ObserveBatchDuration(time.Since(start))
	return nil
}

// ReceiveBatch dequeues up to maxCount ready messages (§4.11).
func (b *Broker) ReceiveBatch(ctx context.Context, queueName, consumerID string, maxCount int, timeout time.Duration) ([]*message.Message, error) {
	q, err := b.getQueue(queueName)
	if err != nil {
		return nil, err
	}
	msgs, err := q.ReceiveBatch(ctx, consumerID, maxCount, timeout)
	if err != nil {
		return nil, err
	}
	if pipeline := b.codecFor(queueName); pipeline != nil {
		for _, msg := range msgs {
			if err := pipeline.Decode(msg); err != nil {
				return nil, resultcode.New(resultcode.SerializationError, err.Error())
			}
		}
	}
	return msgs, nil
}

// Broadcast fans a copy of msg out to every queue and every topic
// (§4.2's broadcast behaviour). If targets is non-empty, only the
// named queues/topics are targeted instead of everything; a name is
// tried against queues first, then topics. Broadcast is best-effort
// per target: a failure on one target does not abort the fanout, and
// every failure is collected into the returned slice. Each queue
// target goes through the normal Send pipeline (codec, WAL,
// replication, metrics); each topic target goes through Publish.
func (b *Broker) Broadcast(targets []string, msg *message.Message) []error {
	var queueNames, topicNames []string
	if len(targets) == 0 {
		b.mu.RLock()
		for name := range b.queues {
			queueNames = append(queueNames, name)
		}
		for name := range b.topics {
			topicNames = append(topicNames, name)
		}
		b.mu.RUnlock()
	} else {
		b.mu.RLock()
		var unknown []string
		for _, name := range targets {
			if _, ok := b.queues[name]; ok {
				queueNames = append(queueNames, name)
			} else if _, ok := b.topics[name]; ok {
				topicNames = append(topicNames, name)
			} else {
				unknown = append(unknown, name)
			}
		}
		b.mu.RUnlock()

		var errs []error
		for _, name := range unknown {
			errs = append(errs, resultcode.New(resultcode.QueueNotFound, name))
		}
		return b.broadcastTo(queueNames, topicNames, msg, errs)
	}

	return b.broadcastTo(queueNames, topicNames, msg, nil)
}

func (b *Broker) broadcastTo(queueNames, topicNames []string, msg *message.Message, errs []error) []error {
	for _, name := range queueNames {
		if err := b.Send(context.Background(), name, msg.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range topicNames {
		t, err := b.getTopic(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.Publish(msg.Clone())
	}
	return errs
}

// RegisterConsumer/UnregisterConsumer/RegisterProducer/UnregisterProducer
// manage a queue's producer/consumer registries (§4.2).
func (b *Broker) RegisterConsumer(queueName, consumerID string) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	return q.RegisterConsumer(consumerID)
}

func (b *Broker) UnregisterConsumer(queueName, consumerID string) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	q.UnregisterConsumer(consumerID)
	return nil
}

func (b *Broker) RegisterProducer(queueName, producerID string) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	return q.RegisterProducer(producerID)
}

func (b *Broker) UnregisterProducer(queueName, producerID string) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	q.UnregisterProducer(producerID)
	return nil
}

// SetFilter installs a send filter on the named queue (§4.2).
func (b *Broker) SetFilter(queueName string, fn queue.FilterFunc) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	q.SetFilter(fn)
	return nil
}

// SetRouter installs the named queue's best-effort routing table,
// resolving each target name against the broker's live queue set.
func (b *Broker) SetRouter(queueName string, targetNames []string) error {
	q, err := b.getQueue(queueName)
	if err != nil {
		return err
	}
	targets := make(map[string]*queue.Queue, len(targetNames))
	for _, t := range targetNames {
		tq, err := b.getQueue(t)
		if err != nil {
			return err
		}
		targets[t] = tq
	}
	q.SetRouter(targets)
	return nil
}

// QueueStats returns a snapshot of a queue's current state (§4.7).
func (b *Broker) QueueStats(queueName string) (queue.Stats, error) {
	q, err := b.getQueue(queueName)
	if err != nil {
		return queue.Stats{}, err
	}
	return q.Stats(), nil
}

// scheduledSend re-enters the normal Send pipeline (codec encode, WAL
// append, replication ack wait, metrics) for a delayed/recurring
// message firing on the scheduler's own goroutine, which has no
// caller-supplied context.
func (b *Broker) scheduledSend(queueName string, msg *message.Message) error {
	return b.Send(context.Background(), queueName, msg)
}

// ScheduleDelayed arranges for msg to be sent into queueName after
// delay elapses (§4.4).
func (b *Broker) ScheduleDelayed(queueName string, msg *message.Message, delay time.Duration) (uint64, error) {
	if _, err := b.getQueue(queueName); err != nil {
		return 0, err
	}
	return b.sched.ScheduleDelayed(queueName, msg, delay, b.scheduledSend), nil
}

// ScheduleRecurring arranges for a clone of msg to be sent into
// queueName every interval (§4.4).
func (b *Broker) ScheduleRecurring(queueName string, msg *message.Message, interval time.Duration) (uint64, error) {
	if _, err := b.getQueue(queueName); err != nil {
		return 0, err
	}
	return b.sched.ScheduleRecurring(queueName, msg, interval, b.scheduledSend), nil
}

// CancelScheduled cancels a previously scheduled delayed/recurring
// send by ID.
func (b *Broker) CancelScheduled(id uint64) bool {
	return b.sched.Cancel(id)
}

func defaultAlertConfig(queueName string) deadletter.AlertConfig {
	return deadletter.AlertConfig{
		QueueName:      queueName,
		CountThreshold: 100,
		RateThreshold:  0.5,
		ShortWindow:    10 * time.Second,
		LongWindow:     5 * time.Minute,
		Cooldown:       time.Minute,
	}
}
