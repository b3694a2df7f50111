package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRecordSendUpdatesTotalAndEnqueueRate(t *testing.T) {
	r := New("", time.Second)
	r.RecordSend("orders")
	r.RecordSend("orders")

	text, err := r.TextExport()
	if err != nil {
		t.Fatalf("TextExport failed: %v", err)
	}
	if !strings.Contains(text, `helianthus_queue_total{queue="orders"} 2`) {
		t.Fatalf("expected queue_total=2 for orders, got:\n%s", text)
	}
}

func TestRecordProcessedUpdatesThroughput(t *testing.T) {
	r := New("", time.Second)
	r.RecordProcessed("orders")

	text, _ := r.TextExport()
	if !strings.Contains(text, "helianthus_queue_throughput") {
		t.Fatalf("expected queue_throughput to be present, got:\n%s", text)
	}
	if !strings.Contains(text, `helianthus_queue_processed{queue="orders"} 1`) {
		t.Fatalf("expected queue_processed=1, got:\n%s", text)
	}
}

func TestObserveLatencyPublishesPercentiles(t *testing.T) {
	r := New("", time.Minute)
	for i := 1; i <= 100; i++ {
		r.ObserveLatency("orders", time.Duration(i)*time.Millisecond)
	}
	text, _ := r.TextExport()
	if !strings.Contains(text, "helianthus_queue_latency_p50_ms") {
		t.Fatalf("expected p50 gauge present, got:\n%s", text)
	}
	if !strings.Contains(text, "helianthus_queue_latency_p95_ms") {
		t.Fatalf("expected p95 gauge present, got:\n%s", text)
	}
}

func TestLatencyRingPercentile(t *testing.T) {
	ring := newLatencyRing(128)
	for i := 1; i <= 100; i++ {
		ring.observe(time.Duration(i) * time.Millisecond)
	}
	p50 := ring.percentile(50)
	if p50 < 45*time.Millisecond || p50 > 55*time.Millisecond {
		t.Fatalf("expected p50 near 50ms, got %v", p50)
	}
}

func TestRateWindowExpiresOldEvents(t *testing.T) {
	w := newRateWindow(20 * time.Millisecond)
	now := time.Now()
	w.observe(now)
	if r := w.rate(now); r <= 0 {
		t.Fatalf("expected nonzero rate immediately after observe, got %v", r)
	}
	time.Sleep(40 * time.Millisecond)
	if r := w.rate(time.Now()); r != 0 {
		t.Fatalf("expected rate to decay to 0 after window expiry, got %v", r)
	}
}

func TestRecordBatchCommitAccumulates(t *testing.T) {
	r := New("", time.Second)
	r.RecordBatchCommit("orders", 10)
	r.RecordBatchCommit("orders", 5)

	text, _ := r.TextExport()
	if !strings.Contains(text, `helianthus_batch_commits_total{queue="orders"} 2`) {
		t.Fatalf("expected batch_commits_total=2, got:\n%s", text)
	}
	if !strings.Contains(text, `helianthus_batch_messages_total{queue="orders"} 15`) {
		t.Fatalf("expected batch_messages_total=15, got:\n%s", text)
	}
}

func TestTxLifecycleUpdatesSuccessRate(t *testing.T) {
	r := New("", time.Second)
	r.RecordTxBegin()
	r.RecordTxBegin()
	r.RecordTxCommitted(5 * time.Millisecond)
	r.RecordTxRolledBack(2 * time.Millisecond)

	text, _ := r.TextExport()
	if !strings.Contains(text, "helianthus_tx_success_rate 0.5") {
		t.Fatalf("expected tx_success_rate=0.5, got:\n%s", text)
	}
	if !strings.Contains(text, "helianthus_tx_avg_commit_ms 5") {
		t.Fatalf("expected tx_avg_commit_ms=5, got:\n%s", text)
	}
}

func TestSampleRingMeanAndOverflow(t *testing.T) {
	ring := newSampleRing(4)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		ring.observe(v)
	}
	// oldest sample (1) evicted; remaining are 2,3,4,5 -> mean 3.5
	if mean := ring.mean(); mean != 3.5 {
		t.Fatalf("expected mean 3.5 after overflow, got %v", mean)
	}
}

func TestZeroCopyAndBatchDurationGauges(t *testing.T) {
	r := New("", time.Second)
	r.ObserveZeroCopyDuration(250 * time.Microsecond)
	r.ObserveBatchDuration(3 * time.Millisecond)

	text, _ := r.TextExport()
	if !strings.Contains(text, "helianthus_zero_copy_duration_ms 0.25") {
		t.Fatalf("expected zero_copy_duration_ms=0.25, got:\n%s", text)
	}
	if !strings.Contains(text, "helianthus_batch_duration_ms 3") {
		t.Fatalf("expected batch_duration_ms=3, got:\n%s", text)
	}
}
