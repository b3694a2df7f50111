// Package topic implements the broker's publish/subscribe object (C4,
// §4.3): a subscriber table, a bounded retained-message ring, and
// best-effort fan-out delivery.
package topic

import (
	"sync"
	"time"

	"github.com/helianthus/broker/internal/message"
)

// Config holds a topic's static configuration (§3).
type Config struct {
	Name string

	RetentionMessages int           // 0 == no retained backlog
	RetentionBytes    int64         // 0 == no byte-based retention limit
	RetentionTTL      time.Duration // 0 == retained messages never expire

	MaxSubscribers int // 0 == unlimited
}

// Subscriber receives a copy of every message published after it
// subscribes. No retained backlog is ever replayed to it.
type Subscriber struct {
	ID      string
	ch      chan *message.Message
	dropped uint64
}

// Messages returns the channel new messages arrive on. The channel is
// closed when the subscriber unsubscribes.
func (s *Subscriber) Messages() <-chan *message.Message { return s.ch }

// Dropped returns the number of messages this subscriber missed
// because its delivery channel was full (slow consumer).
func (s *Subscriber) Dropped() uint64 { return s.dropped }

// Topic is the broker's pub/sub object.
type Topic struct {
	Config Config

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	retained    []*message.Message
	retainedSz  int64

	totalPublished uint64
	totalDelivered uint64
	totalDropped   uint64
}

// New creates a topic.
func New(cfg Config) *Topic {
	return &Topic{
		Config:      cfg,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber with a bounded delivery channel
// (capacity 64; a slow consumer drops rather than blocks the
// publisher). Retention is best-effort and never replayed: a new
// subscriber only sees messages published after it subscribes.
func (t *Topic) Subscribe(id string) (*Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Config.MaxSubscribers > 0 && len(t.subscribers) >= t.Config.MaxSubscribers {
		return nil, errSubscriberLimitExceeded(t.Config.Name)
	}
	sub := &Subscriber{ID: id, ch: make(chan *message.Message, 64)}
	t.subscribers[id] = sub
	return sub, nil
}

// CloseAll unsubscribes every current subscriber, closing each one's
// delivery channel. Used when the topic itself is deleted.
func (t *Topic) CloseAll() {
	t.mu.Lock()
	subs := t.subscribers
	t.subscribers = make(map[string]*Subscriber)
	t.mu.Unlock()
	for _, s := range subs {
		close(s.ch)
	}
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *Topic) Unsubscribe(id string) {
	t.mu.Lock()
	sub, ok := t.subscribers[id]
	if ok {
		delete(t.subscribers, id)
	}
	t.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans msg out to every current subscriber (best-effort: a
// full subscriber channel increments that subscriber's drop counter
// rather than blocking the publisher) and appends it to the retained
// backlog per the configured retention policy.
func (t *Topic) Publish(msg *message.Message) {
	t.mu.Lock()
	t.totalPublished++
	t.retain(msg)
	subs := make([]*Subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg.Clone():
			t.mu.Lock()
			t.totalDelivered++
			t.mu.Unlock()
		default:
			s.dropped++
			t.mu.Lock()
			t.totalDropped++
			t.mu.Unlock()
		}
	}
}

// retain appends msg to the retained backlog and evicts the oldest
// entries to respect RetentionMessages/RetentionBytes/RetentionTTL.
// Must be called with t.mu held.
func (t *Topic) retain(msg *message.Message) {
	if t.Config.RetentionMessages <= 0 && t.Config.RetentionBytes <= 0 {
		return
	}
	t.retained = append(t.retained, msg)
	t.retainedSz += int64(msg.Payload.Len())

	now := time.Now()
	for len(t.retained) > 0 {
		oldest := t.retained[0]
		expired := t.Config.RetentionTTL > 0 && now.Sub(oldest.Header.CreatedAt) > t.Config.RetentionTTL
		overCount := t.Config.RetentionMessages > 0 && len(t.retained) > t.Config.RetentionMessages
		overBytes := t.Config.RetentionBytes > 0 && t.retainedSz > t.Config.RetentionBytes
		if !expired && !overCount && !overBytes {
			break
		}
		t.retainedSz -= int64(oldest.Payload.Len())
		t.retained = t.retained[1:]
	}
}

// Stats is a point-in-time snapshot of a topic's fan-out throughput.
type Stats struct {
	Name            string
	Subscribers     int
	RetainedCount   int
	TotalPublished  uint64
	TotalDelivered  uint64
	TotalDropped    uint64
}

// Stats returns a snapshot of the topic's current state.
func (t *Topic) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Name:           t.Config.Name,
		Subscribers:    len(t.subscribers),
		RetainedCount:  len(t.retained),
		TotalPublished: t.totalPublished,
		TotalDelivered: t.totalDelivered,
		TotalDropped:   t.totalDropped,
	}
}
