package txn

import (
	"sync"
	"time"

	"github.com/helianthus/broker/internal/resultcode"
)

// Commit replays every staged operation. Operations are grouped by
// target queue name and the groups locked/replayed in canonical
// (sorted) order; within a group, operations run in staging order. The
// first failing operation halts replay and every operation already
// applied in this Commit call is rolled back (best-effort, in reverse
// order) before the error is returned.
func (m *Manager) Commit(id uint64) error {
	t := m.Get(id)
	if t == nil {
		return resultcode.New(resultcode.TransactionNotFound, "")
	}

	t.mu.Lock()
	if t.Status != StatusActive && t.Status != StatusPrepared {
		status := t.Status
		t.mu.Unlock()
		return resultcode.New(resultcode.InvalidState, status.String())
	}
	ops := append([]Operation(nil), t.ops...)
	t.mu.Unlock()

	start := time.Now()

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	queueNames := groupByQueue(ops)
	locks := make([]*sync.Mutex, 0, len(queueNames))
	for _, name := range queueNames {
		lock := m.lockForQueue(name)
		lock.Lock()
		locks = append(locks, lock)
	}
	defer func() {
		for _, lock := range locks {
			lock.Unlock()
		}
	}()

	var applied []Operation
	var failure error
	for _, name := range queueNames {
		for _, op := range ops {
			if op.QueueName != name {
				continue
			}
			if err := op.Apply(); err != nil {
				failure = err
				break
			}
			applied = append(applied, op)
		}
		if failure != nil {
			break
		}
	}
	// Operations with no QueueName (e.g. a staged create-queue with no
	// existing target) run after all queue-grouped operations.
	if failure == nil {
		for _, op := range ops {
			if op.QueueName != "" {
				continue
			}
			if err := op.Apply(); err != nil {
				failure = err
				break
			}
			applied = append(applied, op)
		}
	}

	elapsed := time.Since(start)

	t.mu.Lock()
	if failure != nil {
		rollbackStart := time.Now()
		for i := len(applied) - 1; i >= 0; i-- {
			if applied[i].Rollback != nil {
				applied[i].Rollback()
			}
		}
		t.Status = StatusRolledBack
		t.EndedAt = time.Now()
		rollbackElapsed := time.Since(rollbackStart)
		m.stats.recordRollback(rollbackElapsed)
		t.mu.Unlock()
		m.fireRollback(id, failure.Error(), rollbackElapsed)
		return failure
	}

	t.Status = StatusCommitted
	t.EndedAt = time.Now()
	m.stats.recordCommit(elapsed)
	t.mu.Unlock()
	m.fireCommit(id, elapsed)
	return nil
}

// Rollback discards a transaction's staged operations without applying
// any of them. Valid only before Commit (or CommitDistributed) has run.
func (m *Manager) Rollback(id uint64) error {
	t := m.Get(id)
	if t == nil {
		return resultcode.New(resultcode.TransactionNotFound, "")
	}
	t.mu.Lock()
	if t.Status != StatusActive && t.Status != StatusPrepared {
		status := t.Status
		t.mu.Unlock()
		return resultcode.New(resultcode.InvalidState, status.String())
	}
	t.Status = StatusRolledBack
	t.EndedAt = time.Now()
	m.stats.recordRollback(0)
	t.mu.Unlock()
	m.fireRollback(id, "rollback", 0)
	return nil
}

// Abort is an alias for Rollback used when the caller (rather than a
// failed commit) decides to discard the transaction, e.g. on consumer
// shutdown.
func (m *Manager) Abort(id uint64) error {
	return m.Rollback(id)
}
