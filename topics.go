package broker

import (
	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
	"github.com/helianthus/broker/internal/topic"
)

// CreateTopic creates a named topic (§4.3). Returns InvalidParameter
// if a topic by that name already exists.
func (b *Broker) CreateTopic(name string, opts TopicOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.topics[name]; exists {
		return resultcode.New(resultcode.InvalidParameter, "topic already exists: "+name)
	}
	b.topics[name] = topic.New(opts.toTopicConfig(name))
	return nil
}

// DeleteTopic removes a topic, closing every live subscriber channel.
func (b *Broker) DeleteTopic(name string) error {
	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		b.mu.Unlock()
		return resultcode.New(resultcode.QueueNotFound, name)
	}
	delete(b.topics, name)
	b.mu.Unlock()

	t.CloseAll()
	return nil
}

func (b *Broker) getTopic(name string) (*topic.Topic, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[name]
	if !ok {
		return nil, resultcode.New(resultcode.QueueNotFound, name)
	}
	return t, nil
}

// Publish fans msg out to every current subscriber of the named
// topic (§4.3).
func (b *Broker) Publish(topicName string, msg *message.Message) error {
	t, err := b.getTopic(topicName)
	if err != nil {
		return err
	}
	t.Publish(msg)
	return nil
}

// Subscribe registers a subscriber on the named topic. Retention is
// best-effort and never replayed to a new subscriber (§4.3); retained
// messages are only observable via TopicStats.
func (b *Broker) Subscribe(topicName, subscriberID string) (*topic.Subscriber, error) {
	t, err := b.getTopic(topicName)
	if err != nil {
		return nil, err
	}
	return t.Subscribe(subscriberID)
}

// Unsubscribe removes a subscriber from the named topic.
func (b *Broker) Unsubscribe(topicName, subscriberID string) error {
	t, err := b.getTopic(topicName)
	if err != nil {
		return err
	}
	t.Unsubscribe(subscriberID)
	return nil
}

// TopicStats returns a snapshot of a topic's current state (§4.7).
func (b *Broker) TopicStats(topicName string) (topic.Stats, error) {
	t, err := b.getTopic(topicName)
	if err != nil {
		return topic.Stats{}, err
	}
	return t.Stats(), nil
}
