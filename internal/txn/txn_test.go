package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/queue"
)

func sendOp(q *queue.Queue, name string, msg *message.Message, nextID func() uint64) Operation {
	return Operation{
		Kind:      OpSend,
		QueueName: name,
		Apply:     func() error { return q.Send(msg, nextID) },
		Rollback: func() error {
			got, err := q.Receive(context.Background(), "rollback", 0)
			if err == nil {
				_ = got
			}
			return nil
		},
	}
}

func testNextID() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

func TestCommitAppliesAllOperations(t *testing.T) {
	qa := queue.New(queue.Config{Name: "a", Capacity: 10})
	qb := queue.New(queue.Config{Name: "b", Capacity: 10})
	m := NewManager()
	defer m.Close()

	tx := m.Begin("transfer", 0, false, "")
	nextID := testNextID()
	m.Stage(tx.ID, sendOp(qa, "a", message.New([]byte("1"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID))
	m.Stage(tx.ID, sendOp(qb, "b", message.New([]byte("2"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID))

	if err := m.Commit(tx.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if qa.Len() != 1 || qb.Len() != 1 {
		t.Fatalf("expected both queues to receive their message, got a=%d b=%d", qa.Len(), qb.Len())
	}
	if m.Get(tx.ID).Status != StatusCommitted {
		t.Fatalf("expected COMMITTED, got %s", m.Get(tx.ID).Status)
	}
}

func TestCommitFailureRollsBackAppliedOperations(t *testing.T) {
	qa := queue.New(queue.Config{Name: "a", Capacity: 10})
	qb := queue.New(queue.Config{Name: "b", Capacity: 1}) // will be full on second send
	m := NewManager()
	defer m.Close()

	tx := m.Begin("transfer", 0, false, "")
	nextID := testNextID()

	var rolledBack bool
	m.Stage(tx.ID, Operation{
		Kind:      OpSend,
		QueueName: "a",
		Apply:     func() error { return qa.Send(message.New([]byte("1"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID) },
		Rollback:  func() error { rolledBack = true; return nil },
	})
	// Pre-fill qb so the staged send on it fails.
	qb.Send(message.New([]byte("occupied"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID)
	m.Stage(tx.ID, Operation{
		Kind:      OpSend,
		QueueName: "b",
		Apply:     func() error { return qb.Send(message.New([]byte("2"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID) },
	})

	err := m.Commit(tx.ID)
	if err == nil {
		t.Fatal("expected commit to fail when one queue is full")
	}
	if !rolledBack {
		t.Fatal("expected the already-applied operation to be rolled back")
	}
	if m.Get(tx.ID).Status != StatusRolledBack {
		t.Fatalf("expected ROLLED_BACK, got %s", m.Get(tx.ID).Status)
	}
}

func TestRollbackBeforeCommitDiscardsOps(t *testing.T) {
	m := NewManager()
	defer m.Close()

	tx := m.Begin("discard-me", 0, false, "")
	applied := false
	m.Stage(tx.ID, Operation{Apply: func() error { applied = true; return nil }})

	if err := m.Rollback(tx.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if applied {
		t.Fatal("expected rollback to discard ops without applying them")
	}
	if err := m.Commit(tx.ID); err == nil {
		t.Fatal("expected commit after rollback to fail")
	}
}

func TestTwoPhaseCommit(t *testing.T) {
	q := queue.New(queue.Config{Name: "a", Capacity: 10})
	m := NewManager()
	defer m.Close()

	tx := m.Begin("2pc", 0, true, "coordinator-1")
	nextID := testNextID()
	m.Stage(tx.ID, sendOp(q, "a", message.New([]byte("x"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID))

	if err := m.Prepare(tx.ID); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if m.Get(tx.ID).Status != StatusPrepared {
		t.Fatalf("expected PREPARED, got %s", m.Get(tx.ID).Status)
	}
	if err := m.CommitDistributed(tx.ID); err != nil {
		t.Fatalf("commit distributed: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected message applied, got depth %d", q.Len())
	}
}

func TestStageAfterCommitFails(t *testing.T) {
	m := NewManager()
	defer m.Close()
	tx := m.Begin("done", 0, false, "")
	m.Commit(tx.ID)

	err := m.Stage(tx.ID, Operation{Apply: func() error { return nil }})
	if err == nil {
		t.Fatal("expected staging into a committed transaction to fail")
	}
}

func TestStatsTrackCommitsAndRollbacks(t *testing.T) {
	m := NewManager()
	defer m.Close()

	tx1 := m.Begin("ok", 0, false, "")
	m.Stage(tx1.ID, Operation{Apply: func() error { return nil }})
	m.Commit(tx1.ID)

	tx2 := m.Begin("fail", 0, false, "")
	m.Stage(tx2.ID, Operation{Apply: func() error { return errors.New("boom") }})
	m.Commit(tx2.ID)

	stats := m.Stats()
	if stats.TotalCommits != 1 || stats.TotalRollbacks != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGetUnknownTransactionReturnsNil(t *testing.T) {
	m := NewManager()
	defer m.Close()
	if m.Get(999) != nil {
		t.Fatal("expected nil for unknown transaction ID")
	}
}

func TestTransactionTimesOut(t *testing.T) {
	m := NewManager()
	defer m.Close()

	tx := m.Begin("slow", 10*time.Millisecond, false, "")
	time.Sleep(1200 * time.Millisecond)

	if m.Get(tx.ID).Status != StatusTimedOut {
		t.Fatalf("expected TIMED_OUT after timeout elapses, got %s", m.Get(tx.ID).Status)
	}
	if err := m.Commit(tx.ID); err == nil {
		t.Fatal("expected commit of a timed-out transaction to fail")
	}
}
