package deadletter

import (
	"sync"
	"testing"
	"time"

	"github.com/helianthus/broker/internal/message"
)

func TestCountExceededFires(t *testing.T) {
	m := NewMonitor(20 * time.Millisecond)
	defer m.Stop()

	depth := 5
	m.Configure(AlertConfig{QueueName: "orders", CountThreshold: 3}, func() int { return depth })

	var mu sync.Mutex
	var got []Alert
	m.OnAlert(func(a Alert) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	})
	m.Start()

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("expected at least one COUNT_EXCEEDED alert")
	}
	if got[0].Type != AlertCountExceeded {
		t.Fatalf("expected AlertCountExceeded, got %s", got[0].Type)
	}
}

func TestCooldownSuppressesRepeatedAlerts(t *testing.T) {
	m := NewMonitor(10 * time.Millisecond)
	defer m.Stop()

	m.Configure(AlertConfig{QueueName: "orders", CountThreshold: 1, Cooldown: time.Hour}, func() int { return 10 })

	var mu sync.Mutex
	count := 0
	m.OnAlert(func(a Alert) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	m.Start()

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 alert under a long cooldown, got %d", count)
	}
}

func TestRateExceededFires(t *testing.T) {
	m := NewMonitor(20 * time.Millisecond)
	defer m.Stop()
	m.Configure(AlertConfig{QueueName: "orders", RateThreshold: 0.1}, nil)

	for i := 0; i < 10; i++ {
		m.RecordSend("orders")
	}
	for i := 0; i < 5; i++ {
		m.RecordDeadLetter("orders", message.DeadLetterReasonMaxRetriesExceeded)
	}

	var mu sync.Mutex
	found := false
	m.OnAlert(func(a Alert) {
		if a.Type == AlertRateExceeded {
			mu.Lock()
			found = true
			mu.Unlock()
		}
	})
	m.Start()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !found {
		t.Fatal("expected RATE_EXCEEDED alert")
	}
}

func TestReasonCountsAccumulate(t *testing.T) {
	m := NewMonitor(time.Hour)
	defer m.Stop()
	m.RecordDeadLetter("orders", message.DeadLetterReasonExpired)
	m.RecordDeadLetter("orders", message.DeadLetterReasonExpired)
	m.RecordDeadLetter("orders", message.DeadLetterReasonRejected)

	counts := m.ReasonCounts("orders")
	if counts[message.DeadLetterReasonExpired] != 2 {
		t.Fatalf("expected 2 EXPIRED, got %d", counts[message.DeadLetterReasonExpired])
	}
	if counts[message.DeadLetterReasonRejected] != 1 {
		t.Fatalf("expected 1 REJECTED, got %d", counts[message.DeadLetterReasonRejected])
	}
}

func TestRaiseDirectRespectsCooldown(t *testing.T) {
	m := NewMonitor(time.Hour)
	defer m.Stop()
	m.Configure(AlertConfig{QueueName: "orders", Cooldown: time.Hour}, nil)

	var count int
	m.OnAlert(func(a Alert) { count++ })

	m.RaiseDirect("orders", AlertQueueFull, "capacity exceeded")
	m.RaiseDirect("orders", AlertQueueFull, "capacity exceeded")

	if count != 1 {
		t.Fatalf("expected second RaiseDirect to be suppressed by cooldown, got %d alerts", count)
	}
}

func TestHistoryRetainsRecentAlerts(t *testing.T) {
	m := NewMonitor(time.Hour)
	defer m.Stop()
	m.RaiseDirect("orders", AlertProcessingFailed, "handler panicked")

	hist := m.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist))
	}
	if hist[0].Type != AlertProcessingFailed {
		t.Fatalf("expected PROCESSING_FAILED, got %s", hist[0].Type)
	}
}
