package txn

import (
	"time"

	"github.com/helianthus/broker/internal/resultcode"
)

// Prepare transitions a distributed transaction from Active to
// Prepared (§4.5/§9's single-node 2PC surface: prepare only validates
// that every staged operation's Apply closure is non-nil and the
// transaction is still open — it does not invoke Apply). A real
// multi-node coordinator would use Prepared as the vote to send back;
// this implementation has no network leg, so Prepare/CommitDistributed/
// RollbackDistributed model the state machine a coordinator would
// drive without actually coordinating across processes.
func (m *Manager) Prepare(id uint64) error {
	t := m.Get(id)
	if t == nil {
		return resultcode.New(resultcode.TransactionNotFound, "")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != StatusActive {
		return resultcode.New(resultcode.InvalidState, t.Status.String())
	}
	for _, op := range t.ops {
		if op.Apply == nil {
			return resultcode.New(resultcode.InvalidParameter, "staged operation missing Apply")
		}
	}
	t.Status = StatusPrepared
	return nil
}

// CommitDistributed applies a Prepared transaction's operations,
// identically to Commit, and exists as the distinct 2PC entry point a
// coordinator would call after collecting every participant's
// Prepared vote.
func (m *Manager) CommitDistributed(id uint64) error {
	return m.Commit(id)
}

// RollbackDistributed discards a Prepared (or still-Active) distributed
// transaction, the 2PC abort path.
func (m *Manager) RollbackDistributed(id uint64) error {
	return m.Rollback(id)
}

// sweepLoop once a second marks Active or Prepared transactions whose
// Timeout has elapsed as TIMED_OUT (§4.5).
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepTimeouts()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Manager) sweepTimeouts() {
	now := time.Now()
	m.mu.Lock()
	var timedOut []*Transaction
	for _, t := range m.txns {
		t.mu.Lock()
		if (t.Status == StatusActive || t.Status == StatusPrepared) && t.Timeout > 0 && now.Sub(t.StartedAt) > t.Timeout {
			t.Status = StatusTimedOut
			t.EndedAt = now
			timedOut = append(timedOut, t)
		}
		t.mu.Unlock()
	}
	m.mu.Unlock()

	if len(timedOut) > 0 {
		m.stats.recordTimeouts(len(timedOut))
		for _, t := range timedOut {
			m.fireTimeout(t.ID)
		}
	}
}
