// Package queue implements the broker's queue object (C3, §4.2): FIFO
// or priority ordering, the pending-ack map, dead-letter sub-queue,
// per-queue metrics windows, and the retry/dead-letter state machine.
//
// # Concurrency model
//
// Each Queue owns a sync.RWMutex per §5's shared-resource policy:
// readers are Peek/Stats/Len; writers are Send/Receive/Ack/Reject and
// any mutation of the filter or router tables. No lock is held across
// a callback invocation (event handlers are always called after the
// lock is released), mirroring the teacher's documented discipline in
// internal/pool and internal/eventbus.
package queue

import (
	"time"

	"github.com/helianthus/broker/internal/codec"
)

// Type enumerates the queue kinds from §3.
type Type int

const (
	TypeStandard Type = iota
	TypePriority
	TypeDelay
	TypeDeadLetter
	TypeBroadcast
)

// Persistence selects whether (and how) a queue's WAL entries are
// mirrored to durable storage. NONE keeps everything in-process;
// POSTGRES additionally mirrors WAL appends to the optional
// internal/wal Postgres store.
type Persistence int

const (
	PersistenceNone Persistence = iota
	PersistencePostgres
)

// Unbounded is the explicit sentinel for "no capacity limit" (see
// SPEC_FULL.md open question E.3). Normalize does not change
// Config.Capacity: 0 means a genuine zero-capacity queue that rejects
// every send. The facade maps an unset broker.QueueOptions.Capacity to
// Unbounded before it builds a Config.
const Unbounded = -1

// Config holds a queue's static configuration (§3). All fields have
// defaults applied by Normalize.
type Config struct {
	Name        string
	Type        Type
	Persistence Persistence

	Capacity      int // message count; Unbounded (-1) == no limit
	CapacityBytes int64 // 0 == no byte limit
	MaxConsumers  int
	MaxProducers  int

	MessageTTL time.Duration // 0 == no per-message TTL
	QueueTTL   time.Duration // 0 == queue never expires on idleness

	DeadLetterEnabled   bool
	DeadLetterQueueName string // derived as Name+"_DLQ" if empty and enabled
	MaxRetries          int
	RetryDelay          time.Duration
	BackoffMultiplier   float64
	MaxRetryDelay       time.Duration
	DeadLetterTTL       time.Duration

	PriorityEnabled bool
	BatchingEnabled bool
	BatchSize       int
	BatchTimeout    time.Duration

	Compression      codec.CompressionAlgorithm
	CompressionLevel int
	CompressionMinSize int
	Encryption       codec.EncryptionAlgorithm
	EncryptionKey    codec.KeyMaterial

	MetricsWindow      time.Duration // sliding window for enqueue/dequeue rate
	LatencyRingCapacity int          // bounded ring buffer of latency samples
}

// Normalize fills in defaults for zero-valued fields and derives the
// dead-letter queue name per §6. Capacity is intentionally left
// untouched: by the time a Config reaches here it is always explicit
// (0 means zero-capacity, queue.Unbounded means unlimited) — resolving
// the unset-vs-zero ambiguity is the caller's job, see SPEC_FULL.md E.3.
func (c Config) Normalize() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.DeadLetterTTL <= 0 {
		c.DeadLetterTTL = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 100 * time.Millisecond
	}
	if c.DeadLetterEnabled && c.DeadLetterQueueName == "" {
		c.DeadLetterQueueName = c.Name + "_DLQ"
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = 60 * time.Second
	}
	if c.LatencyRingCapacity <= 0 {
		c.LatencyRingCapacity = 512
	}
	return c
}
