// Package txn implements the broker's local transaction manager and
// single-node two-phase-commit surface (C6, §4.5). A transaction
// stages a sequence of operations (send, ack, reject, create/delete
// queue) as opaque apply/rollback closures; Commit replays every
// staged operation grouped by the queue it targets, in canonical
// (lexicographic queue-name) order, and rolls back everything already
// applied the moment one operation fails.
package txn

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helianthus/broker/internal/resultcode"
)

// Status is a transaction's position in its lifecycle (§4.5).
type Status int

const (
	StatusActive Status = iota
	StatusPrepared
	StatusCommitted
	StatusRolledBack
	StatusAborted
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusPrepared:
		return "PREPARED"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	case StatusAborted:
		return "ABORTED"
	case StatusTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// OpKind classifies a staged operation for introspection and stats;
// the actual behavior lives entirely in Operation.Apply/Rollback.
type OpKind int

const (
	OpSend OpKind = iota
	OpAck
	OpReject
	OpCreateQueue
	OpDeleteQueue
)

// Operation is one staged, replayable step of a transaction. Apply
// performs the step; Rollback (best-effort, may be nil) compensates
// for an already-applied step when a later operation in the same
// commit fails.
type Operation struct {
	Kind      OpKind
	QueueName string
	Apply     func() error
	Rollback  func() error
}

// Transaction is a staged sequence of operations awaiting Commit,
// Rollback, or (for distributed transactions) Prepare/CommitDistributed.
type Transaction struct {
	ID            uint64
	Status        Status
	Description   string
	StartedAt     time.Time
	EndedAt       time.Time
	Timeout       time.Duration
	IsDistributed bool
	CoordinatorID string

	mu  sync.Mutex
	ops []Operation
}

// Manager owns all live transactions and enforces single-writer
// commit semantics: only one transaction may be committing (applying
// its staged operations) at a time, which makes the per-queue
// canonical lock ordering below sufficient to prevent any
// cross-transaction deadlock even though every Commit call already
// holds the single commit gate.
type Manager struct {
	mu      sync.Mutex
	txns    map[uint64]*Transaction
	nextID  atomic.Uint64
	commitMu sync.Mutex

	queueLocksMu sync.Mutex
	queueLocks   map[string]*sync.Mutex

	stats stats

	handlersMu       sync.Mutex
	commitHandlers   []func(id uint64, elapsed time.Duration)
	rollbackHandlers []func(id uint64, reason string, elapsed time.Duration)
	timeoutHandlers  []func(uint64)

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// OnCommit registers a callback invoked, outside any lock, after a
// transaction commits successfully. elapsed is the time Commit spent
// replaying the transaction's staged operations.
func (m *Manager) OnCommit(h func(id uint64, elapsed time.Duration)) {
	m.handlersMu.Lock()
	m.commitHandlers = append(m.commitHandlers, h)
	m.handlersMu.Unlock()
}

// OnRollback registers a callback invoked, outside any lock, after a
// transaction rolls back (whether via explicit Rollback/Abort or a
// failed Commit's automatic undo). elapsed is the time spent undoing
// already-applied operations (zero for an explicit Rollback/Abort that
// never applied anything).
func (m *Manager) OnRollback(h func(id uint64, reason string, elapsed time.Duration)) {
	m.handlersMu.Lock()
	m.rollbackHandlers = append(m.rollbackHandlers, h)
	m.handlersMu.Unlock()
}

// OnTimeout registers a callback invoked, outside any lock, after the
// timeout sweeper transitions a transaction to TIMED_OUT.
func (m *Manager) OnTimeout(h func(id uint64)) {
	m.handlersMu.Lock()
	m.timeoutHandlers = append(m.timeoutHandlers, h)
	m.handlersMu.Unlock()
}

func (m *Manager) fireCommit(id uint64, elapsed time.Duration) {
	m.handlersMu.Lock()
	handlers := append([]func(uint64, time.Duration){}, m.commitHandlers...)
	m.handlersMu.Unlock()
	for _, h := range handlers {
		h(id, elapsed)
	}
}

func (m *Manager) fireRollback(id uint64, reason string, elapsed time.Duration) {
	m.handlersMu.Lock()
	handlers := append([]func(uint64, string, time.Duration){}, m.rollbackHandlers...)
	m.handlersMu.Unlock()
	for _, h := range handlers {
		h(id, reason, elapsed)
	}
}

func (m *Manager) fireTimeout(id uint64) {
	m.handlersMu.Lock()
	handlers := append([]func(uint64){}, m.timeoutHandlers...)
	m.handlersMu.Unlock()
	for _, h := range handlers {
		h(id)
	}
}

// NewManager creates a transaction manager and starts its timeout
// sweeper (which runs once a second).
func NewManager() *Manager {
	m := &Manager{
		txns:       make(map[uint64]*Transaction),
		queueLocks: make(map[string]*sync.Mutex),
		stopSweep:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the timeout sweeper.
func (m *Manager) Close() {
	close(m.stopSweep)
	<-m.sweepDone
}

// Begin creates a new Active transaction. timeout <= 0 means the
// transaction never times out.
func (m *Manager) Begin(description string, timeout time.Duration, distributed bool, coordinatorID string) *Transaction {
	t := &Transaction{
		ID:            m.nextID.Add(1),
		Status:        StatusActive,
		Description:   description,
		StartedAt:     time.Now(),
		Timeout:       timeout,
		IsDistributed: distributed,
		CoordinatorID: coordinatorID,
	}
	m.mu.Lock()
	m.txns[t.ID] = t
	m.mu.Unlock()
	return t
}

// Get returns a transaction by ID, or nil if unknown.
func (m *Manager) Get(id uint64) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txns[id]
}

// Stage appends an operation to an Active transaction. Returns
// InvalidState if the transaction is not Active (e.g. already
// committed, rolled back, or prepared).
func (m *Manager) Stage(id uint64, op Operation) error {
	t := m.Get(id)
	if t == nil {
		return resultcode.New(resultcode.TransactionNotFound, "")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != StatusActive {
		return resultcode.New(resultcode.InvalidState, t.Status.String())
	}
	t.ops = append(t.ops, op)
	return nil
}

// lockForQueue returns (creating if needed) the mutex guarding commit
// replay for a given queue name.
func (m *Manager) lockForQueue(name string) *sync.Mutex {
	m.queueLocksMu.Lock()
	defer m.queueLocksMu.Unlock()
	l, ok := m.queueLocks[name]
	if !ok {
		l = &sync.Mutex{}
		m.queueLocks[name] = l
	}
	return l
}

// groupByQueue returns the distinct queue names touched by ops, sorted
// lexicographically — the canonical lock order that makes concurrent
// multi-queue transactions deadlock-free regardless of the order their
// callers staged queues in.
func groupByQueue(ops []Operation) []string {
	seen := make(map[string]bool)
	var names []string
	for _, op := range ops {
		if op.QueueName == "" || seen[op.QueueName] {
			continue
		}
		seen[op.QueueName] = true
		names = append(names, op.QueueName)
	}
	sort.Strings(names)
	return names
}
