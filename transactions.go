package broker

import (
	"context"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
	"github.com/helianthus/broker/internal/txn"
)

// BeginTransaction starts a local transaction (§4.5). A zero timeout
// means the transaction never expires on its own.
func (b *Broker) BeginTransaction(description string, timeout time.Duration) uint64 {
	b.metrics.RecordTxBegin()
	return b.txns.Begin(description, timeout, false, "").ID
}

// BeginDistributedTransaction starts a transaction participating in
// the facade's single-node two-phase-commit surface (§4.5, E.4):
// coordinatorID identifies the (simulated) coordinating participant.
func (b *Broker) BeginDistributedTransaction(description string, timeout time.Duration, coordinatorID string) uint64 {
	b.metrics.RecordTxBegin()
	return b.txns.Begin(description, timeout, true, coordinatorID).ID
}

// TransactionStatus returns a transaction's current status, or an
// error if the ID is unknown.
func (b *Broker) TransactionStatus(id uint64) (txn.Status, error) {
	t := b.txns.Get(id)
	if t == nil {
		return 0, resultcode.New(resultcode.TransactionNotFound, "")
	}
	return t.Status, nil
}

// StageSend stages a Send as part of a transaction: the message is
// not actually enqueued until Commit replays it, at which point it
// goes through the same codec/WAL/replication/metrics pipeline as any
// other Send.
func (b *Broker) StageSend(txID uint64, queueName string, msg *message.Message) error {
	if _, err := b.getQueue(queueName); err != nil {
		return err
	}
	return b.txns.Stage(txID, txn.Operation{
		Kind:      txn.OpSend,
		QueueName: queueName,
		Apply:     func() error { return b.Send(context.Background(), queueName, msg) },
	})
}

// StageAck stages an Ack as part of a transaction.
func (b *Broker) StageAck(txID uint64, queueName string, messageID uint64) error {
	if _, err := b.getQueue(queueName); err != nil {
		return err
	}
	return b.txns.Stage(txID, txn.Operation{
		Kind:      txn.OpAck,
		QueueName: queueName,
		Apply:     func() error { return b.Ack(queueName, messageID) },
	})
}

// StageReject stages a Reject as part of a transaction.
func (b *Broker) StageReject(txID uint64, queueName string, messageID uint64, requeue bool) error {
	if _, err := b.getQueue(queueName); err != nil {
		return err
	}
	return b.txns.Stage(txID, txn.Operation{
		Kind:      txn.OpReject,
		QueueName: queueName,
		Apply:     func() error { return b.Reject(queueName, messageID, requeue) },
	})
}

// StageCreateQueue stages a CreateQueue as part of a transaction, with
// DeleteQueue as its rollback compensation.
func (b *Broker) StageCreateQueue(txID uint64, name string, opts QueueOptions) error {
	return b.txns.Stage(txID, txn.Operation{
		Kind:      txn.OpCreateQueue,
		QueueName: name,
		Apply:     func() error { return b.CreateQueue(name, opts) },
		Rollback:  func() error { return b.DeleteQueue(name) },
	})
}

// StageDeleteQueue stages a DeleteQueue as part of a transaction. This
// operation has no rollback: once a queue is deleted its in-flight
// state is gone, matching internal/queue.Close's one-way semantics.
func (b *Broker) StageDeleteQueue(txID uint64, name string) error {
	return b.txns.Stage(txID, txn.Operation{
		Kind:      txn.OpDeleteQueue,
		QueueName: name,
		Apply:     func() error { return b.DeleteQueue(name) },
	})
}

// Commit replays every staged operation in canonical queue order,
// rolling back everything already applied if any operation fails.
func (b *Broker) Commit(txID uint64) error {
	return b.txns.Commit(txID)
}

// Rollback undoes a transaction's staged operations without
// attempting to apply any of them (§4.5).
func (b *Broker) Rollback(txID uint64) error {
	return b.txns.Rollback(txID)
}

// Abort is an alias for Rollback.
func (b *Broker) Abort(txID uint64) error {
	return b.txns.Abort(txID)
}

// Prepare transitions a distributed transaction from Active to
// Prepared, the first phase of the facade's 2PC surface (§4.5, E.4).
func (b *Broker) Prepare(txID uint64) error {
	return b.txns.Prepare(txID)
}

// CommitDistributed completes the second phase of a prepared
// distributed transaction.
func (b *Broker) CommitDistributed(txID uint64) error {
	return b.txns.CommitDistributed(txID)
}

// RollbackDistributed aborts a prepared (or still-active) distributed
// transaction.
func (b *Broker) RollbackDistributed(txID uint64) error {
	return b.txns.RollbackDistributed(txID)
}

// TransactionStats returns aggregate commit/rollback/timeout counters
// across every transaction this broker has processed (§4.7).
func (b *Broker) TransactionStats() txn.Stats {
	return b.txns.Stats()
}
