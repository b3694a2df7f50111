package queue

import (
	"context"
	"testing"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
)

func testNextID() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

func TestSendReceiveAck(t *testing.T) {
	q := New(Config{Name: "orders", Capacity: 10})
	nextID := testNextID()

	msg := message.New([]byte("hello"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	if err := q.Send(msg, nextID); err != nil {
		t.Fatalf("send: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected depth 1, got %d", q.Len())
	}

	got, err := q.Receive(context.Background(), "consumer-1", 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got.Payload.Bytes()) != "hello" {
		t.Fatalf("unexpected payload: %s", got.Payload.Bytes())
	}
	if q.Len() != 0 {
		t.Fatalf("expected depth 0 after receive, got %d", q.Len())
	}

	if err := q.Ack(got.Header.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Ack(got.Header.ID); !resultcode.Is(err, resultcode.InvalidState) {
		t.Fatalf("expected second ack to fail with InvalidState, got %v", err)
	}
}

func TestQueueFullRejectsSend(t *testing.T) {
	q := New(Config{Name: "bounded", Capacity: 1})
	nextID := testNextID()

	if err := q.Send(message.New([]byte("a"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID); err != nil {
		t.Fatalf("first send: %v", err)
	}
	err := q.Send(message.New([]byte("b"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID)
	if err == nil {
		t.Fatal("expected QueueFull on second send")
	}
}

func TestExplicitZeroCapacityAlwaysFull(t *testing.T) {
	q := New(Config{Name: "zero-cap", Capacity: 0})
	nextID := testNextID()
	err := q.Send(message.New([]byte("a"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID)
	if err == nil {
		t.Fatal("expected QueueFull for explicit zero-capacity queue")
	}
}

func TestUnboundedCapacityNeverFull(t *testing.T) {
	q := New(Config{Name: "unbounded", Capacity: Unbounded})
	nextID := testNextID()
	for i := 0; i < 1000; i++ {
		if err := q.Send(message.New([]byte("a"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if q.Len() != 1000 {
		t.Fatalf("expected depth 1000, got %d", q.Len())
	}
}

func TestPriorityOrdering(t *testing.T) {
	q := New(Config{Name: "prio", Capacity: 100, PriorityEnabled: true})
	nextID := testNextID()

	low := message.New([]byte("low"), message.TypeText, message.PriorityLow, message.AtLeastOnce)
	normal := message.New([]byte("normal"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	critical := message.New([]byte("critical"), message.TypeText, message.PriorityCritical, message.AtLeastOnce)
	high := message.New([]byte("high"), message.TypeText, message.PriorityHigh, message.AtLeastOnce)

	for _, m := range []*message.Message{low, normal, critical, high} {
		if err := q.Send(m, nextID); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	want := []string{"critical", "high", "normal", "low"}
	for _, w := range want {
		got, err := q.Receive(context.Background(), "c1", 0)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if string(got.Payload.Bytes()) != w {
			t.Fatalf("expected %q, got %q", w, got.Payload.Bytes())
		}
	}
}

func TestSamePriorityPreservesFIFO(t *testing.T) {
	q := New(Config{Name: "prio-fifo", Capacity: 100, PriorityEnabled: true})
	nextID := testNextID()

	for i := 0; i < 5; i++ {
		m := message.New([]byte{byte('a' + i)}, message.TypeText, message.PriorityNormal, message.AtLeastOnce)
		if err := q.Send(m, nextID); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		got, err := q.Receive(context.Background(), "c1", 0)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if got.Payload.Bytes()[0] != byte('a'+i) {
			t.Fatalf("expected FIFO order within priority, got %q at position %d", got.Payload.Bytes(), i)
		}
	}
}

func TestRejectWithRequeueRetriesThenDeadLetters(t *testing.T) {
	dlq := New(Config{Name: "work_DLQ", Capacity: 100})
	q := New(Config{
		Name:                "work",
		Capacity:            100,
		MaxRetries:          2,
		RetryDelay:          time.Millisecond,
		BackoffMultiplier:   2.0,
		DeadLetterEnabled:   true,
		DeadLetterQueueName: "work_DLQ",
	})
	q.SetDeadLetterQueue(dlq)
	nextID := testNextID()

	msg := message.New([]byte("payload"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	if err := q.Send(msg, nextID); err != nil {
		t.Fatalf("send: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		got, err := q.Receive(context.Background(), "c1", 0)
		if err != nil {
			t.Fatalf("receive attempt %d: %v", attempt, err)
		}
		if err := q.Reject(got.Header.ID, true); err != nil {
			t.Fatalf("reject attempt %d: %v", attempt, err)
		}
	}

	// Retries exhausted: the message should now be receivable one more
	// time (it was requeued without an onRetry handler), and rejecting
	// it again with requeue=true exceeds MaxRetries and dead-letters it.
	got, err := q.Receive(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("final receive: %v", err)
	}
	if got.Header.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", got.Header.RetryCount)
	}
	if err := q.Reject(got.Header.ID, true); err != nil {
		t.Fatalf("final reject: %v", err)
	}

	if dlq.Len() != 1 {
		t.Fatalf("expected 1 message in DLQ, got %d", dlq.Len())
	}
	dead, err := dlq.Receive(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("dlq receive: %v", err)
	}
	if dead.Header.DeadLetterReason != message.DeadLetterReasonMaxRetriesExceeded {
		t.Fatalf("expected MAX_RETRIES_EXCEEDED, got %s", dead.Header.DeadLetterReason)
	}
}

func TestRejectWithoutRequeueDeadLettersImmediately(t *testing.T) {
	dlq := New(Config{Name: "work_DLQ", Capacity: 100})
	q := New(Config{Name: "work", Capacity: 100, DeadLetterEnabled: true})
	q.SetDeadLetterQueue(dlq)
	nextID := testNextID()

	msg := message.New([]byte("payload"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	q.Send(msg, nextID)
	got, _ := q.Receive(context.Background(), "c1", 0)

	if err := q.Reject(got.Header.ID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if dlq.Len() != 1 {
		t.Fatalf("expected immediate dead-letter, got depth %d", dlq.Len())
	}
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	q := New(Config{Name: "blocking", Capacity: 10})
	nextID := testNextID()

	result := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background(), "c1", time.Second)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Send(message.New([]byte("late"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected successful receive, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receive did not wake on send")
	}
}

func TestReceiveTimesOutOnEmptyQueue(t *testing.T) {
	q := New(Config{Name: "empty", Capacity: 10})
	_, err := q.Receive(context.Background(), "c1", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error on empty queue")
	}
}

func TestConsumerLimitExceeded(t *testing.T) {
	q := New(Config{Name: "limited", Capacity: 10, MaxConsumers: 1})
	if err := q.RegisterConsumer("c1"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := q.RegisterConsumer("c2"); err == nil {
		t.Fatal("expected ConsumerLimitExceeded for second consumer")
	}
	q.UnregisterConsumer("c1")
	if err := q.RegisterConsumer("c2"); err != nil {
		t.Fatalf("register after unregister: %v", err)
	}
}

func TestSendBatchAllOrNothing(t *testing.T) {
	q := New(Config{Name: "batch", Capacity: 3})
	nextID := testNextID()

	msgs := []*message.Message{
		message.New([]byte("a"), message.TypeText, message.PriorityNormal, message.AtLeastOnce),
		message.New([]byte("b"), message.TypeText, message.PriorityNormal, message.AtLeastOnce),
		message.New([]byte("c"), message.TypeText, message.PriorityNormal, message.AtLeastOnce),
		message.New([]byte("d"), message.TypeText, message.PriorityNormal, message.AtLeastOnce),
	}
	if err := q.SendBatch(msgs, nextID); err == nil {
		t.Fatal("expected QueueFull for batch exceeding capacity")
	}
	if q.Len() != 0 {
		t.Fatalf("expected no partial enqueue, got depth %d", q.Len())
	}

	if err := q.SendBatch(msgs[:3], nextID); err != nil {
		t.Fatalf("batch send: %v", err)
	}
	if q.Len() != 3 {
		t.Fatalf("expected depth 3, got %d", q.Len())
	}
}

func TestExpireNowDeadLettersExpiredMessages(t *testing.T) {
	dlq := New(Config{Name: "ttl_DLQ", Capacity: 10})
	q := New(Config{Name: "ttl", Capacity: 10, MessageTTL: time.Millisecond, DeadLetterEnabled: true})
	q.SetDeadLetterQueue(dlq)
	nextID := testNextID()

	q.Send(message.New([]byte("expiring"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID)
	time.Sleep(5 * time.Millisecond)

	n := q.ExpireNow(time.Now())
	if n != 1 {
		t.Fatalf("expected 1 expired message, got %d", n)
	}
	if dlq.Len() != 1 {
		t.Fatalf("expected expired message routed to DLQ, got depth %d", dlq.Len())
	}
}

func TestStatsReflectsThroughput(t *testing.T) {
	q := New(Config{Name: "stats", Capacity: 10})
	nextID := testNextID()

	q.Send(message.New([]byte("x"), message.TypeText, message.PriorityNormal, message.AtLeastOnce), nextID)
	q.Receive(context.Background(), "c1", 0)

	stats := q.Stats()
	if stats.TotalSent != 1 || stats.TotalReceived != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
