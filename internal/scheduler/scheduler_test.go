package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/queue"
)

func testNextID() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

func TestScheduleDelayedFiresAfterDelay(t *testing.T) {
	q := queue.New(queue.Config{Name: "delayed", Capacity: 10})
	nextID := testNextID()
	send := func(queueName string, msg *message.Message) error { return q.Send(msg, nextID) }
	s := New()
	s.Start()
	defer s.Stop()

	msg := message.New([]byte("later"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	s.ScheduleDelayed("delayed", msg, 20*time.Millisecond, send)

	if q.Len() != 0 {
		t.Fatal("expected message not yet delivered before delay elapses")
	}

	got, err := q.Receive(context.Background(), "c1", time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got.Payload.Bytes()) != "later" {
		t.Fatalf("unexpected payload: %s", got.Payload.Bytes())
	}
}

func TestScheduleRecurringFiresRepeatedly(t *testing.T) {
	q := queue.New(queue.Config{Name: "tick", Capacity: 100})
	nextID := testNextID()
	send := func(queueName string, msg *message.Message) error { return q.Send(msg, nextID) }
	s := New()
	s.Start()
	defer s.Stop()

	msg := message.New([]byte("tick"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	id := s.ScheduleRecurring("tick", msg, 10*time.Millisecond, send)
	defer s.Cancel(id)

	for i := 0; i < 3; i++ {
		if _, err := q.Receive(context.Background(), "c1", time.Second); err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
	}
}

func TestCancelStopsRecurring(t *testing.T) {
	q := queue.New(queue.Config{Name: "tick", Capacity: 100})
	nextID := testNextID()
	send := func(queueName string, msg *message.Message) error { return q.Send(msg, nextID) }
	s := New()
	s.Start()
	defer s.Stop()

	msg := message.New([]byte("tick"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	id := s.ScheduleRecurring("tick", msg, 10*time.Millisecond, send)

	if _, err := q.Receive(context.Background(), "c1", time.Second); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if !s.Cancel(id) {
		t.Fatal("expected cancel of in-flight recurring task to succeed")
	}

	// Drain anything already in-flight, then assert nothing new arrives.
	time.Sleep(30 * time.Millisecond)
	for q.Len() > 0 {
		q.Receive(context.Background(), "c1", 0)
	}
	_, err := q.Receive(context.Background(), "c1", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected no further recurring deliveries after cancel")
	}
}

func TestCancelUnknownIDReturnsFalse(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	if s.Cancel(9999) {
		t.Fatal("expected Cancel to return false for an unknown ID")
	}
}

func TestScheduleRetryRequeuesAtDueTime(t *testing.T) {
	q := queue.New(queue.Config{Name: "retry", Capacity: 10})
	nextID := testNextID()
	msg := message.New([]byte("retry-me"), message.TypeText, message.PriorityNormal, message.AtLeastOnce)
	q.Send(msg, nextID)
	delivered, _ := q.Receive(context.Background(), "c1", 0)

	s := New()
	s.Start()
	defer s.Stop()

	s.ScheduleRetry(q, delivered, time.Now().Add(20*time.Millisecond))

	if q.Len() != 0 {
		t.Fatal("expected message not requeued before due time")
	}
	got, err := q.Receive(context.Background(), "c1", time.Second)
	if err != nil {
		t.Fatalf("receive after retry: %v", err)
	}
	if string(got.Payload.Bytes()) != "retry-me" {
		t.Fatalf("unexpected payload: %s", got.Payload.Bytes())
	}
}
