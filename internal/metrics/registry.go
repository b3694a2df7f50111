// Package metrics samples per-queue throughput and latency and exports
// them, along with the performance-fast-path and transaction counters,
// as a Prometheus registry (§4.7, §4.11, §6).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the metric name prefix used by every collector in
// this package ("helianthus_...").
const DefaultNamespace = "helianthus"

// queueState holds the sliding-window sampler state for one queue.
type queueState struct {
	mu      sync.Mutex
	enqueue *rateWindow
	dequeue *rateWindow
	latency *latencyRing
}

// Registry wraps a Prometheus registry with the collectors named in
// §6, plus the in-process sliding-window samplers that feed the
// derived gauges (throughput, rates, percentiles).
type Registry struct {
	reg *prometheus.Registry

	queuePending     *prometheus.GaugeVec
	queueTotal       *prometheus.CounterVec
	queueProcessed   *prometheus.CounterVec
	queueDeadletter  *prometheus.CounterVec
	queueThroughput  *prometheus.GaugeVec
	queueLatencyP50  *prometheus.GaugeVec
	queueLatencyP95  *prometheus.GaugeVec
	queueEnqueueRate *prometheus.GaugeVec
	queueDequeueRate *prometheus.GaugeVec

	batchCommitsTotal  *prometheus.CounterVec
	batchMessagesTotal *prometheus.CounterVec

	zeroCopyDurationMs prometheus.Gauge
	batchDurationMs    prometheus.Gauge

	txTotal         prometheus.Counter
	txCommitted     prometheus.Counter
	txRolledBack    prometheus.Counter
	txTimeout       prometheus.Counter
	txFailed        prometheus.Counter
	txSuccessRate   prometheus.Gauge
	txAvgCommitMs   prometheus.Gauge
	txAvgRollbackMs prometheus.Gauge

	statesMu sync.Mutex
	states   map[string]*queueState

	zeroCopyRing *sampleRing
	batchRing    *sampleRing
	commitRing   *sampleRing
	rollbackRing *sampleRing

	txTotalCount     atomic.Uint64
	txCommittedCount atomic.Uint64

	window time.Duration
}

// New constructs a Registry with the exact metric names from §6,
// registered under namespace (empty defaults to DefaultNamespace).
// window is the trailing duration used for rate/throughput sampling
// (0 defaults to 60s, matching the dead-letter evaluator's cadence).
func New(namespace string, window time.Duration) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if window <= 0 {
		window = 60 * time.Second
	}

	r := &Registry{
		reg:          prometheus.NewRegistry(),
		states:       make(map[string]*queueState),
		zeroCopyRing: newSampleRing(defaultRingCapacity),
		batchRing:    newSampleRing(defaultRingCapacity),
		commitRing:   newSampleRing(defaultRingCapacity),
		rollbackRing: newSampleRing(defaultRingCapacity),
		window:       window,
	}

	queueLabel := []string{"queue"}

	r.queuePending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_pending", Help: "Messages currently pending in the queue.",
	}, queueLabel)
	r.queueTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "queue_total", Help: "Total messages sent to the queue.",
	}, queueLabel)
	r.queueProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "queue_processed", Help: "Total messages acknowledged from the queue.",
	}, queueLabel)
	r.queueDeadletter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "queue_deadletter", Help: "Total messages routed to a dead-letter queue.",
	}, queueLabel)
	r.queueThroughput = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_throughput", Help: "Messages processed per second over the trailing window.",
	}, queueLabel)
	r.queueLatencyP50 = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_latency_p50_ms", Help: "Median end-to-end queue latency in milliseconds.",
	}, queueLabel)
	r.queueLatencyP95 = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_latency_p95_ms", Help: "95th percentile end-to-end queue latency in milliseconds.",
	}, queueLabel)
	r.queueEnqueueRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_enqueue_rate", Help: "Sends per second over the trailing window.",
	}, queueLabel)
	r.queueDequeueRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_dequeue_rate", Help: "Acknowledgements per second over the trailing window.",
	}, queueLabel)

	r.batchCommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "batch_commits_total", Help: "Total batch operations committed.",
	}, queueLabel)
	r.batchMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "batch_messages_total", Help: "Total messages carried by committed batches.",
	}, queueLabel)

	r.zeroCopyDurationMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "zero_copy_duration_ms", Help: "Most recent zero-copy buffer operation duration in milliseconds.",
	})
	r.batchDurationMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "batch_duration_ms", Help: "Most recent batch operation duration in milliseconds.",
	})

	r.txTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tx_total", Help: "Total transactions begun.",
	})
	r.txCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tx_committed", Help: "Total transactions committed.",
	})
	r.txRolledBack = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tx_rolled_back", Help: "Total transactions rolled back.",
	})
	r.txTimeout = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tx_timeout", Help: "Total transactions that timed out.",
	})
	r.txFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tx_failed", Help: "Total transactions that failed during commit.",
	})
	r.txSuccessRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "tx_success_rate", Help: "Ratio of committed to total transactions.",
	})
	r.txAvgCommitMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "tx_avg_commit_ms", Help: "Mean transaction commit duration in milliseconds.",
	})
	r.txAvgRollbackMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "tx_avg_rollback_ms", Help: "Mean transaction rollback duration in milliseconds.",
	})

	r.reg.MustRegister(
		r.queuePending, r.queueTotal, r.queueProcessed, r.queueDeadletter,
		r.queueThroughput, r.queueLatencyP50, r.queueLatencyP95,
		r.queueEnqueueRate, r.queueDequeueRate,
		r.batchCommitsTotal, r.batchMessagesTotal,
		r.zeroCopyDurationMs, r.batchDurationMs,
		r.txTotal, r.txCommitted, r.txRolledBack, r.txTimeout, r.txFailed,
		r.txSuccessRate, r.txAvgCommitMs, r.txAvgRollbackMs,
	)

	return r
}

func (r *Registry) stateFor(queue string) *queueState {
	r.statesMu.Lock()
	defer r.statesMu.Unlock()
	s, ok := r.states[queue]
	if !ok {
		s = &queueState{
			enqueue: newRateWindow(r.window),
			dequeue: newRateWindow(r.window),
			latency: newLatencyRing(512),
		}
		r.states[queue] = s
	}
	return s
}

// SetPending publishes the current pending-message gauge for a queue.
func (r *Registry) SetPending(queue string, n int) {
	r.queuePending.WithLabelValues(queue).Set(float64(n))
}

// RecordSend registers one message sent to queue: increments the total
// counter and updates the enqueue-rate gauge.
func (r *Registry) RecordSend(queue string) {
	r.queueTotal.WithLabelValues(queue).Inc()
	s := r.stateFor(queue)
	now := time.Now()
	s.mu.Lock()
	s.enqueue.observe(now)
	rate := s.enqueue.rate(now)
	s.mu.Unlock()
	r.queueEnqueueRate.WithLabelValues(queue).Set(rate)
}

// RecordProcessed registers one message acknowledged from queue:
// increments the processed counter and updates the dequeue-rate and
// throughput gauges.
func (r *Registry) RecordProcessed(queue string) {
	r.queueProcessed.WithLabelValues(queue).Inc()
	s := r.stateFor(queue)
	now := time.Now()
	s.mu.Lock()
	s.dequeue.observe(now)
	rate := s.dequeue.rate(now)
	s.mu.Unlock()
	r.queueDequeueRate.WithLabelValues(queue).Set(rate)
	r.queueThroughput.WithLabelValues(queue).Set(rate)
}

// RecordDeadLetter increments the dead-letter counter for queue.
func (r *Registry) RecordDeadLetter(queue string) {
	r.queueDeadletter.WithLabelValues(queue).Inc()
}

// ObserveLatency records one end-to-end latency sample for queue and
// refreshes its p50/p95 gauges.
func (r *Registry) ObserveLatency(queue string, d time.Duration) {
	s := r.stateFor(queue)
	s.mu.Lock()
	s.latency.observe(d)
	p50 := s.latency.percentile(50)
	p95 := s.latency.percentile(95)
	s.mu.Unlock()
	r.queueLatencyP50.WithLabelValues(queue).Set(float64(p50.Microseconds()) / 1000)
	r.queueLatencyP95.WithLabelValues(queue).Set(float64(p95.Microseconds()) / 1000)
}

// RecordBatchCommit registers one committed batch of messageCount
// messages for queue.
func (r *Registry) RecordBatchCommit(queue string, messageCount int) {
	r.batchCommitsTotal.WithLabelValues(queue).Inc()
	r.batchMessagesTotal.WithLabelValues(queue).Add(float64(messageCount))
}

// ObserveZeroCopyDuration records a zero-copy buffer operation's
// duration.
func (r *Registry) ObserveZeroCopyDuration(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	r.zeroCopyRing.observe(ms)
	r.zeroCopyDurationMs.Set(ms)
}

// ObserveBatchDuration records a batch operation's duration.
func (r *Registry) ObserveBatchDuration(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	r.batchRing.observe(ms)
	r.batchDurationMs.Set(ms)
}

// RecordTxBegin increments the total-transactions counter.
func (r *Registry) RecordTxBegin() {
	r.txTotal.Inc()
	r.txTotalCount.Add(1)
	r.refreshTxSuccessRate()
}

// RecordTxCommitted increments the committed counter, records commit
// duration, and refreshes tx_success_rate/tx_avg_commit_ms.
func (r *Registry) RecordTxCommitted(d time.Duration) {
	r.txCommitted.Inc()
	r.txCommittedCount.Add(1)
	ms := float64(d.Microseconds()) / 1000
	r.commitRing.observe(ms)
	r.txAvgCommitMs.Set(r.commitRing.mean())
	r.refreshTxSuccessRate()
}

// RecordTxRolledBack increments the rolled-back counter and records
// rollback duration.
func (r *Registry) RecordTxRolledBack(d time.Duration) {
	r.txRolledBack.Inc()
	ms := float64(d.Microseconds()) / 1000
	r.rollbackRing.observe(ms)
	r.txAvgRollbackMs.Set(r.rollbackRing.mean())
	r.refreshTxSuccessRate()
}

// RecordTxTimeout increments the timeout counter.
func (r *Registry) RecordTxTimeout() {
	r.txTimeout.Inc()
	r.refreshTxSuccessRate()
}

// RecordTxFailed increments the failed counter.
func (r *Registry) RecordTxFailed() {
	r.txFailed.Inc()
	r.refreshTxSuccessRate()
}

func (r *Registry) refreshTxSuccessRate() {
	total := r.txTotalCount.Load()
	if total == 0 {
		r.txSuccessRate.Set(0)
		return
	}
	r.txSuccessRate.Set(float64(r.txCommittedCount.Load()) / float64(total))
}

// Gatherer exposes the underlying Prometheus registry for scraping or
// text export.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
