package topic

import (
	"testing"
	"time"

	"github.com/helianthus/broker/internal/message"
)

func TestPublishFanOut(t *testing.T) {
	tp := New(Config{Name: "news"})
	sub1, err := tp.Subscribe("s1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub2, err := tp.Subscribe("s2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tp.Publish(message.New([]byte("hello"), message.TypeText, message.PriorityNormal, message.FireAndForget))

	for _, s := range []*Subscriber{sub1, sub2} {
		select {
		case m := <-s.Messages():
			if string(m.Payload.Bytes()) != "hello" {
				t.Fatalf("unexpected payload: %s", m.Payload.Bytes())
			}
		case <-time.After(time.Second):
			t.Fatal("expected message delivered to subscriber")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	tp := New(Config{Name: "news"})
	sub, _ := tp.Subscribe("s1")
	tp.Unsubscribe("s1")

	_, ok := <-sub.Messages()
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestRetainedBacklogNotReplayed(t *testing.T) {
	tp := New(Config{Name: "news", RetentionMessages: 10})
	tp.Publish(message.New([]byte("first"), message.TypeText, message.PriorityNormal, message.FireAndForget))
	tp.Publish(message.New([]byte("second"), message.TypeText, message.PriorityNormal, message.FireAndForget))

	sub, err := tp.Subscribe("late")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case m := <-sub.Messages():
		t.Fatalf("expected no replay for a new subscriber, got %q", m.Payload.Bytes())
	case <-time.After(50 * time.Millisecond):
	}

	if stats := tp.Stats(); stats.RetainedCount != 2 {
		t.Fatalf("expected retained messages still queryable via stats, got %d", stats.RetainedCount)
	}
}

func TestRetentionMessagesEvictsOldest(t *testing.T) {
	tp := New(Config{Name: "news", RetentionMessages: 2})
	for i := 0; i < 5; i++ {
		tp.Publish(message.New([]byte{byte('a' + i)}, message.TypeText, message.PriorityNormal, message.FireAndForget))
	}
	stats := tp.Stats()
	if stats.RetainedCount != 2 {
		t.Fatalf("expected retained count capped at 2, got %d", stats.RetainedCount)
	}
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	tp := New(Config{Name: "news"})
	sub, _ := tp.Subscribe("slow")

	for i := 0; i < 100; i++ {
		tp.Publish(message.New([]byte{byte(i)}, message.TypeBinary, message.PriorityNormal, message.FireAndForget))
	}

	if sub.Dropped() == 0 {
		t.Fatal("expected some messages dropped for a subscriber that never drains its channel")
	}
	stats := tp.Stats()
	if stats.TotalDropped == 0 {
		t.Fatal("expected topic-level drop counter to increment")
	}
}

func TestMaxSubscribersEnforced(t *testing.T) {
	tp := New(Config{Name: "news", MaxSubscribers: 1})
	if _, err := tp.Subscribe("s1"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := tp.Subscribe("s2"); err == nil {
		t.Fatal("expected subscriber limit exceeded")
	}
}
