// Package broker is the public surface of the Helianthus in-process
// message broker (C11, §4.10): queue and topic lifecycle, the
// send/receive data path, local and distributed transactions, cluster
// routing, and the metrics/alerting surface consumed by an embedding
// service. Every other package under internal/ is a supporting
// component; broker is the only package an embedder imports.
package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helianthus/broker/internal/cluster"
	"github.com/helianthus/broker/internal/codec"
	"github.com/helianthus/broker/internal/config"
	"github.com/helianthus/broker/internal/deadletter"
	"github.com/helianthus/broker/internal/logging"
	"github.com/helianthus/broker/internal/mempool"
	"github.com/helianthus/broker/internal/metrics"
	"github.com/helianthus/broker/internal/queue"
	"github.com/helianthus/broker/internal/scheduler"
	"github.com/helianthus/broker/internal/telemetry"
	"github.com/helianthus/broker/internal/topic"
	"github.com/helianthus/broker/internal/txn"
	"github.com/helianthus/broker/internal/wal"
)

// Known global config keys (§6). Unknown keys are stored but ignored.
const (
	ConfigHeartbeatFlapProb     = "cluster.heartbeat.flap.prob"
	ConfigMinReplicationAcks    = "cluster.min_replication_acks"
	ConfigMetricsWindowMs       = "metrics.window_ms"
	ConfigMetricsLatencyRing    = "metrics.latency_ring"
	ConfigSchedulerTickMs       = "scheduler.tick_ms"
	ConfigDLQMonitorIntervalMs  = "dlq.monitor_interval_ms"
)

// Errors returned directly by Broker (the rest flow through
// resultcode.Error, matching the taxonomy in §6/§7).
var (
	ErrAlreadyInitialized = fmt.Errorf("broker: already initialized")
	ErrNotInitialized     = fmt.Errorf("broker: not initialized")
	ErrShuttingDown       = fmt.Errorf("broker: shutting down")
)

// Options configures a new Broker instance.
type Options struct {
	// NodeIDs lists the cluster members this broker instance routes
	// across. A single-node deployment passes exactly one ID.
	NodeIDs []string
	// Config is the typed startup configuration (§B of SPEC_FULL.md).
	// A nil Config uses config.DefaultConfig().
	Config *config.Config
	// WALStore overrides the default in-memory WAL backing store
	// (e.g. wal.NewPostgresStore for a persisted mirror).
	WALStore wal.Store
}

// QueueEvent is delivered to registered queue-event handlers whenever
// a message transitions state on a queue the facade manages directly
// (sent, delivered, acknowledged, rejected, dead-lettered, expired).
type QueueEvent struct {
	Queue     string
	MessageID uint64
	Kind      string // "sent" | "delivered" | "acked" | "rejected" | "dead_letter" | "expired"
	Detail    string
	At        time.Time
}

// Broker is the broker facade (C11). It orchestrates every other
// component; external callers never touch internal/ directly.
type Broker struct {
	mu     sync.RWMutex
	queues map[string]*queue.Queue
	topics map[string]*topic.Topic

	codecsMu sync.RWMutex
	codecs   map[string]*codec.Pipeline

	txns    *txn.Manager
	sched   *scheduler.Scheduler
	dlqMon  *deadletter.Monitor
	cluster *cluster.Cluster
	wal     *wal.Log
	walStore wal.Store
	metrics *metrics.Registry
	pool    *mempool.Pool
	batches *mempool.Registry

	nextMessageID atomic.Uint64
	nextBatchID   atomic.Uint64
	nextAlertID   atomic.Uint64

	configMu sync.RWMutex
	config   map[string]string

	handlersMu         sync.Mutex
	queueEventHandlers []func(QueueEvent)
	errorHandlers      []func(error)

	startedAt    time.Time
	started      atomic.Bool
	shuttingDown atomic.Bool

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
	sweepStop     chan struct{}
	sweepDone     chan struct{}
}

// New constructs a Broker. Background components (scheduler,
// dead-letter monitor, heartbeat, expiry sweep) are not started until
// Initialize is called.
func New(opts Options) *Broker {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	store := opts.WALStore
	metricsWindow := time.Duration(cfg.Metrics.WindowMs) * time.Millisecond

	b := &Broker{
		queues:  make(map[string]*queue.Queue),
		topics:  make(map[string]*topic.Topic),
		codecs:  make(map[string]*codec.Pipeline),
		txns:    txn.NewManager(),
		sched:   scheduler.New(),
		dlqMon:  deadletter.NewMonitor(time.Duration(cfg.DeadLetter.MonitorIntervalMs) * time.Millisecond),
		cluster: cluster.New(opts.NodeIDs, cfg.Cluster.ShardCount, cfg.Cluster.VirtualNodes),
		wal:     wal.New(store),
		walStore: store,
		metrics: metrics.New("", metricsWindow),
		pool:    mempool.New(mempool.DefaultBlockSize, mempool.DefaultGrowthFactor, 0),
		batches: mempool.NewRegistry(),
		config:  make(map[string]string),
	}

	b.cluster.SetMinReplicationAcks(cfg.Cluster.MinReplicationAcks)
	b.cluster.SetHeartbeatFlapProbability(cfg.Cluster.HeartbeatFlapProbability)
	b.setConfigLocked(ConfigMinReplicationAcks, fmt.Sprintf("%d", cfg.Cluster.MinReplicationAcks))
	b.setConfigLocked(ConfigHeartbeatFlapProb, fmt.Sprintf("%g", cfg.Cluster.HeartbeatFlapProbability))
	b.setConfigLocked(ConfigMetricsWindowMs, fmt.Sprintf("%d", cfg.Metrics.WindowMs))
	b.setConfigLocked(ConfigMetricsLatencyRing, fmt.Sprintf("%d", cfg.Metrics.LatencyRing))
	b.setConfigLocked(ConfigSchedulerTickMs, fmt.Sprintf("%d", cfg.Scheduler.TickMs))
	b.setConfigLocked(ConfigDLQMonitorIntervalMs, fmt.Sprintf("%d", cfg.DeadLetter.MonitorIntervalMs))

	b.dlqMon.OnAlert(func(a deadletter.Alert) {
		b.nextAlertID.Add(1)
		logging.Op().Warn("dead-letter alert", "type", a.Type.String(), "queue", a.QueueName, "detail", a.Detail)
	})
	b.txns.OnCommit(func(id uint64, elapsed time.Duration) { b.metrics.RecordTxCommitted(elapsed) })
	b.txns.OnRollback(func(id uint64, reason string, elapsed time.Duration) { b.metrics.RecordTxRolledBack(elapsed) })
	b.txns.OnTimeout(func(id uint64) { b.metrics.RecordTxTimeout() })
	b.cluster.OnLeaderChange(func(shardID int, oldLeader, newLeader string) {
		logging.Op().Info("shard leader changed", "shard", shardID, "old", oldLeader, "new", newLeader)
	})

	return b
}

func (b *Broker) setConfigLocked(key, value string) {
	b.configMu.Lock()
	b.config[key] = value
	b.configMu.Unlock()
}

// Initialize starts the broker's background components in the
// documented order (§4.10): scheduler, then dead-letter monitor, then
// the heartbeat and expiry-sweep loops, before accepting any Send.
// Calling Initialize twice returns ErrAlreadyInitialized.
func (b *Broker) Initialize(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	b.startedAt = time.Now()

	b.sched.Start()
	b.dlqMon.Start()

	b.heartbeatStop = make(chan struct{})
	b.heartbeatDone = make(chan struct{})
	go b.heartbeatLoop()

	b.sweepStop = make(chan struct{})
	b.sweepDone = make(chan struct{})
	go b.expirySweepLoop()

	return nil
}

// Shutdown stops accepting new sends, drains the scheduler and
// monitors, and releases resources in the documented reverse order
// (§4.10). It is safe to call Shutdown without a prior Initialize.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.shuttingDown.Store(true)

	if b.heartbeatStop != nil {
		close(b.heartbeatStop)
		<-b.heartbeatDone
	}
	if b.sweepStop != nil {
		close(b.sweepStop)
		<-b.sweepDone
	}

	if b.started.Load() {
		b.sched.Stop()
		b.dlqMon.Stop()
	}
	b.txns.Close()

	b.mu.RLock()
	for _, q := range b.queues {
		q.Close()
	}
	b.mu.RUnlock()

	if closer, ok := b.walStore.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (b *Broker) heartbeatLoop() {
	defer close(b.heartbeatDone)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.cluster.HeartbeatTick()
		case <-b.heartbeatStop:
			return
		}
	}
}

func (b *Broker) expirySweepLoop() {
	defer close(b.sweepDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			b.mu.RLock()
			qs := make([]*queue.Queue, 0, len(b.queues))
			for _, q := range b.queues {
				qs = append(qs, q)
			}
			b.mu.RUnlock()
			for _, q := range qs {
				if n := q.ExpireNow(now); n > 0 {
					b.metrics.RecordDeadLetter(q.Config.Name)
				}
			}
		case <-b.sweepStop:
			return
		}
	}
}

// nextMessageIDFunc is handed to internal/queue as the nextID closure
// used to assign an ID to a zero-ID message on Send.
func (b *Broker) nextMessageIDFunc() func() uint64 {
	return func() uint64 { return b.nextMessageID.Add(1) }
}

// SetConfig stores a runtime config key (§6). Only
// ConfigHeartbeatFlapProb and ConfigMinReplicationAcks take effect
// immediately; every other key, including the other documented ones
// such as scheduler.tick_ms or metrics.window_ms, is stored and
// returned by GetConfig but changes no behaviour.
func (b *Broker) SetConfig(key, value string) {
	b.configMu.Lock()
	b.config[key] = value
	b.configMu.Unlock()

	switch key {
	case ConfigHeartbeatFlapProb:
		var p float64
		if _, err := fmt.Sscanf(value, "%g", &p); err == nil {
			b.cluster.SetHeartbeatFlapProbability(p)
		}
	case ConfigMinReplicationAcks:
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			b.cluster.SetMinReplicationAcks(n)
		}
	}
}

// GetConfig returns a runtime config value and whether it was set.
func (b *Broker) GetConfig(key string) (string, bool) {
	b.configMu.RLock()
	defer b.configMu.RUnlock()
	v, ok := b.config[key]
	return v, ok
}

// OnQueueEvent registers a handler invoked for every queue-level
// message state transition the facade observes directly.
func (b *Broker) OnQueueEvent(h func(QueueEvent)) {
	b.handlersMu.Lock()
	b.queueEventHandlers = append(b.queueEventHandlers, h)
	b.handlersMu.Unlock()
}

// OnError registers a handler invoked once per internal invariant
// violation surfaced as INTERNAL_ERROR (§7).
func (b *Broker) OnError(h func(error)) {
	b.handlersMu.Lock()
	b.errorHandlers = append(b.errorHandlers, h)
	b.handlersMu.Unlock()
}

// OnLeaderChange registers a callback fired whenever a shard's leader
// changes (§4.8).
func (b *Broker) OnLeaderChange(h cluster.LeaderChangeHandler) { b.cluster.OnLeaderChange(h) }

// OnFailover registers a callback fired whenever a leader's health
// transitions to unhealthy and a promotion occurs (§4.8).
func (b *Broker) OnFailover(h cluster.FailoverHandler) { b.cluster.OnFailover(h) }

// OnTransactionCommit registers a callback fired after a transaction
// commits successfully, with the time Commit spent replaying it
// (§4.5).
func (b *Broker) OnTransactionCommit(h func(id uint64, elapsed time.Duration)) { b.txns.OnCommit(h) }

// OnTransactionRollback registers a callback fired after a transaction
// rolls back, whether explicitly or via a failed commit (§4.5), with
// the time spent undoing already-applied operations.
func (b *Broker) OnTransactionRollback(h func(id uint64, reason string, elapsed time.Duration)) {
	b.txns.OnRollback(h)
}

// OnTransactionTimeout registers a callback fired when the timeout
// sweeper aborts a transaction (§4.5).
func (b *Broker) OnTransactionTimeout(h func(id uint64)) { b.txns.OnTimeout(h) }

// OnDeadLetterAlert registers a callback fired for every dead-letter
// alert that survives cooldown suppression (§4.6).
func (b *Broker) OnDeadLetterAlert(h deadletter.Handler) { b.dlqMon.OnAlert(h) }

func (b *Broker) fireQueueEvent(ev QueueEvent) {
	b.handlersMu.Lock()
	handlers := append([]func(QueueEvent){}, b.queueEventHandlers...)
	b.handlersMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *Broker) fireError(err error) {
	logging.Op().Error("internal error", "err", err)
	b.handlersMu.Lock()
	handlers := append([]func(error){}, b.errorHandlers...)
	b.handlersMu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// AlertHistory returns the most recently raised dead-letter alerts,
// oldest first (§4.6).
func (b *Broker) AlertHistory() []deadletter.Alert {
	return b.dlqMon.History()
}

// startSpan starts a telemetry span if tracing is enabled, otherwise
// returns a noop span via the same call (internal/telemetry already
// defaults to a noop tracer when Init was never called).
func startSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := telemetry.StartSpan(ctx, name)
	return ctx, func() { span.End() }
}
