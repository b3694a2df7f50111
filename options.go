package broker

import (
	"time"

	"github.com/helianthus/broker/internal/codec"
	"github.com/helianthus/broker/internal/queue"
	"github.com/helianthus/broker/internal/topic"
)

// QueueOptions configures CreateQueue. Zero values take the defaults
// documented in internal/queue.Config.Normalize, except Capacity,
// which is resolved explicitly (SPEC_FULL.md E.3): a nil Capacity
// means unlimited; a non-nil Capacity of 0 creates a genuine
// zero-capacity queue that rejects every send.
type QueueOptions struct {
	Type        queue.Type
	Persistence queue.Persistence

	// Capacity is a message-count limit. nil == unbounded; a pointer
	// to 0 is a real zero-capacity queue, not "default."
	Capacity      *int
	CapacityBytes int64
	MaxConsumers  int
	MaxProducers  int

	MessageTTL time.Duration
	QueueTTL   time.Duration

	DeadLetterEnabled   bool
	DeadLetterQueueName string
	MaxRetries          int
	RetryDelay          time.Duration
	BackoffMultiplier   float64
	MaxRetryDelay       time.Duration
	DeadLetterTTL       time.Duration

	PriorityEnabled bool
	BatchingEnabled bool
	BatchSize       int
	BatchTimeout    time.Duration

	Compression        codec.CompressionAlgorithm
	CompressionLevel   int
	CompressionMinSize int
	Encryption         codec.EncryptionAlgorithm
	EncryptionKey      codec.KeyMaterial

	MetricsWindow       time.Duration
	LatencyRingCapacity int

	// ShardKey, if set, is hashed by the cluster ring to assign this
	// queue to a shard (§4.8). Left empty, no shard is assigned and
	// each send routes by its partition_key property, or else by the
	// queue name, through the ring.
	ShardKey string
}

// toQueueConfig resolves the Capacity sentinel (E.3) and produces the
// internal/queue.Config the facade constructs the real queue from.
func (o QueueOptions) toQueueConfig(name string) queue.Config {
	capacity := queue.Unbounded
	if o.Capacity != nil {
		capacity = *o.Capacity
	}
	return queue.Config{
		Name:                name,
		Type:                o.Type,
		Persistence:         o.Persistence,
		Capacity:            capacity,
		CapacityBytes:       o.CapacityBytes,
		MaxConsumers:        o.MaxConsumers,
		MaxProducers:        o.MaxProducers,
		MessageTTL:          o.MessageTTL,
		QueueTTL:            o.QueueTTL,
		DeadLetterEnabled:   o.DeadLetterEnabled,
		DeadLetterQueueName: o.DeadLetterQueueName,
		MaxRetries:          o.MaxRetries,
		RetryDelay:          o.RetryDelay,
		BackoffMultiplier:   o.BackoffMultiplier,
		MaxRetryDelay:       o.MaxRetryDelay,
		DeadLetterTTL:       o.DeadLetterTTL,
		PriorityEnabled:     o.PriorityEnabled,
		BatchingEnabled:     o.BatchingEnabled,
		BatchSize:           o.BatchSize,
		BatchTimeout:        o.BatchTimeout,
		Compression:         o.Compression,
		CompressionLevel:    o.CompressionLevel,
		CompressionMinSize:  o.CompressionMinSize,
		Encryption:          o.Encryption,
		EncryptionKey:       o.EncryptionKey,
		MetricsWindow:       o.MetricsWindow,
		LatencyRingCapacity: o.LatencyRingCapacity,
	}
}

// TopicOptions configures CreateTopic.
type TopicOptions struct {
	RetentionMessages int
	RetentionBytes    int64
	RetentionTTL      time.Duration
	MaxSubscribers    int
}

func (o TopicOptions) toTopicConfig(name string) topic.Config {
	return topic.Config{
		Name:              name,
		RetentionMessages: o.RetentionMessages,
		RetentionBytes:    o.RetentionBytes,
		RetentionTTL:      o.RetentionTTL,
		MaxSubscribers:    o.MaxSubscribers,
	}
}
