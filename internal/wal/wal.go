// Package wal implements the broker's per-shard write-ahead log
// (C10, §4.9): a strictly index-monotonic append log per shard, and a
// per-node apply cursor used to track follower replication progress.
package wal

import (
	"fmt"
	"sync"
	"time"
)

// Entry is one write-ahead log record.
type Entry struct {
	Index     uint64
	MessageID uint64
	QueueName string
	Timestamp time.Time
}

// Store is the durability backend a Log appends to and reads from.
// The in-memory implementation (Memory) is the default; PostgresStore
// offers an optional persisted mirror.
type Store interface {
	Append(shardID int, e Entry) error
	Entries(shardID int, fromIndex uint64) ([]Entry, error)
	LastIndex(shardID int) uint64
}

// Log is a per-shard write-ahead log with per-node follower apply
// cursors (§3 WAL entry, §4.9).
type Log struct {
	mu      sync.Mutex
	store   Store
	cursors map[int]map[string]uint64 // shardID -> nodeID -> last applied index
}

// New creates a Log backed by store. A nil store defaults to an
// in-memory Store.
func New(store Store) *Log {
	if store == nil {
		store = NewMemory()
	}
	return &Log{store: store, cursors: make(map[int]map[string]uint64)}
}

// Append appends exactly one entry to shardID's log. The entry's
// Index is assigned here as the store's LastIndex plus one (strictly
// monotonic per shard) and returned.
func (l *Log) Append(shardID int, messageID uint64, queueName string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Index:     l.store.LastIndex(shardID) + 1,
		MessageID: messageID,
		QueueName: queueName,
		Timestamp: time.Now(),
	}
	if err := l.store.Append(shardID, e); err != nil {
		return Entry{}, fmt.Errorf("wal append shard %d: %w", shardID, err)
	}
	return e, nil
}

// Entries returns every entry for shardID at or after fromIndex, in
// index order.
func (l *Log) Entries(shardID int, fromIndex uint64) ([]Entry, error) {
	return l.store.Entries(shardID, fromIndex)
}

// LastIndex returns the highest index appended to shardID, or 0 if
// empty.
func (l *Log) LastIndex(shardID int) uint64 {
	return l.store.LastIndex(shardID)
}

// AdvanceCursor records that nodeID has applied shardID up to and
// including index. Cursors only move forward; an out-of-order or
// stale call is a no-op.
func (l *Log) AdvanceCursor(shardID int, nodeID string, index uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	shardCursors, ok := l.cursors[shardID]
	if !ok {
		shardCursors = make(map[string]uint64)
		l.cursors[shardID] = shardCursors
	}
	if index > shardCursors[nodeID] {
		shardCursors[nodeID] = index
	}
}

// Cursor returns nodeID's last applied index for shardID (0 if it has
// never advanced).
func (l *Log) Cursor(shardID int, nodeID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursors[shardID][nodeID]
}

// Lag returns how far behind the log's head nodeID's apply cursor is
// for shardID.
func (l *Log) Lag(shardID int, nodeID string) uint64 {
	head := l.LastIndex(shardID)
	applied := l.Cursor(shardID, nodeID)
	if applied >= head {
		return 0
	}
	return head - applied
}
