// Package message defines the wire-independent message model shared by
// queues and topics: headers, payloads (owned or zero-copy external),
// and the enums that classify a message's type, priority, delivery
// guarantee, and lifecycle status.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies the domain meaning of a message payload. Unknown/Text/
// Binary/JSON are generic; the rest are application-facing tags carried
// through so consumers can dispatch without inspecting the payload.
type Type int

const (
	TypeUnknown Type = iota
	TypeText
	TypeBinary
	TypeJSON
	TypePlayerEvent
	TypeGameEvent
	TypeChatEvent
	TypeSystemEvent
	TypeCombatEvent
	TypeEconomyEvent
	TypeGuildEvent
	TypeMatchEvent
	TypeHeartbeat
	TypeHealth
	TypeMetrics
	TypeLog
	TypeConfig
	TypeDiscovery
	TypePlayerJoin
	TypePlayerLeave
	TypePlayerMove
	TypePlayerAction
	TypeGameStart
	TypeGameEnd
	TypeGameStateUpdate
	TypeMatchFound
	TypeMatchEnd
	TypeGuildInvite
	TypeGuildUpdate
)

// Priority orders dequeue within a priority queue; higher wins.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityRealtime
)

// DeliveryMode selects the at-most/at-least/exactly-once contract a
// message is delivered under.
type DeliveryMode int

const (
	FireAndForget DeliveryMode = iota
	AtLeastOnce
	AtMostOnce
	ExactlyOnce
)

// Status tracks a message's position in the queue lifecycle (§3).
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusDelivered
	StatusAcknowledged
	StatusFailed
	StatusExpired
	StatusDeadLetter
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSent:
		return "SENT"
	case StatusDelivered:
		return "DELIVERED"
	case StatusAcknowledged:
		return "ACKNOWLEDGED"
	case StatusFailed:
		return "FAILED"
	case StatusExpired:
		return "EXPIRED"
	case StatusDeadLetter:
		return "DEAD_LETTER"
	default:
		return "UNKNOWN"
	}
}

// DeadLetterReason records why a message was moved to a dead-letter
// queue (§4.2).
type DeadLetterReason int

const (
	DeadLetterReasonNone DeadLetterReason = iota
	DeadLetterReasonMaxRetriesExceeded
	DeadLetterReasonExpired
	DeadLetterReasonRejected
	DeadLetterReasonQueueFull
	DeadLetterReasonMessageTooLarge
	DeadLetterReasonInvalidMessage
	DeadLetterReasonConsumerError
	DeadLetterReasonTimeout
	DeadLetterReasonUnknown
)

func (r DeadLetterReason) String() string {
	switch r {
	case DeadLetterReasonNone:
		return "NONE"
	case DeadLetterReasonMaxRetriesExceeded:
		return "MAX_RETRIES_EXCEEDED"
	case DeadLetterReasonExpired:
		return "EXPIRED"
	case DeadLetterReasonRejected:
		return "REJECTED"
	case DeadLetterReasonQueueFull:
		return "QUEUE_FULL"
	case DeadLetterReasonMessageTooLarge:
		return "MESSAGE_TOO_LARGE"
	case DeadLetterReasonInvalidMessage:
		return "INVALID_MESSAGE"
	case DeadLetterReasonConsumerError:
		return "CONSUMER_ERROR"
	case DeadLetterReasonTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Reserved property keys (§6). Written only by the codec pipeline
// (Compressed/Encrypted) or the router (partition_key); any other
// writer is a caller bug.
const (
	PropCompressed   = "Compressed"
	PropEncrypted    = "Encrypted"
	PropPartitionKey = "partition_key"
)

// Header carries the routing/lifecycle metadata for a message.
type Header struct {
	ID               uint64
	Type             Type
	Priority         Priority
	DeliveryMode     DeliveryMode
	CreatedAt        time.Time
	ExpireAt         time.Time // zero value == never expires
	RetryCount       int
	MaxRetries       int
	NextRetryAt      time.Time
	DeadLetterReason DeadLetterReason
	OriginalQueue    string
	SourceID         string
	TargetID         string
	CorrelationID    string
	Properties       map[string]string
}

// Payload is either an owned byte slice or an externally-owned
// pointer+length wrapped with an optional deallocator (the zero-copy
// path, §3/§4.11). Exactly one of Owned or External is populated.
type Payload struct {
	Owned    []byte
	External *ExternalPayload
}

// ExternalPayload wraps a caller-supplied buffer without copying it.
// Release must be called exactly once when the message carrying it is
// discarded; Release is a no-op if Dealloc is nil.
type ExternalPayload struct {
	Data    []byte
	Dealloc func([]byte)
	released bool
}

// Release invokes the deallocator exactly once, if one was supplied.
func (p *ExternalPayload) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	if p.Dealloc != nil {
		p.Dealloc(p.Data)
	}
}

// Bytes returns the payload's bytes regardless of which variant is set.
func (p Payload) Bytes() []byte {
	if p.External != nil {
		return p.External.Data
	}
	return p.Owned
}

// Len returns the payload length in bytes.
func (p Payload) Len() int {
	return len(p.Bytes())
}

// Message is a header, a payload, a lifecycle status, and the two
// timestamps tracking its last status transition and dispatch time.
type Message struct {
	Header     Header
	Payload    Payload
	Status     Status
	Timestamp  time.Time // time of creation/last mutation
	DeliveredAt time.Time
}

// New constructs a message with sane header defaults: a creation
// timestamp and PENDING status. The correlation ID is left empty (see
// EnsureCorrelationID) and ID is left zero; the caller (normally the
// queue on Send) assigns it.
func New(payload []byte, msgType Type, priority Priority, mode DeliveryMode) *Message {
	now := time.Now()
	return &Message{
		Header: Header{
			Type:         msgType,
			Priority:     priority,
			DeliveryMode: mode,
			CreatedAt:    now,
			Properties:   make(map[string]string),
		},
		Payload:   Payload{Owned: payload},
		Status:    StatusPending,
		Timestamp: now,
	}
}

// EnsureCorrelationID assigns a random correlation ID if none is set.
func (m *Message) EnsureCorrelationID() {
	if m.Header.CorrelationID == "" {
		m.Header.CorrelationID = uuid.NewString()
	}
}

// SetProperty sets a property. Reserved keys (Compressed, Encrypted)
// must only be written by the codec pipeline; callers outside it
// should use application-specific keys.
func (m *Message) SetProperty(key, value string) {
	if m.Header.Properties == nil {
		m.Header.Properties = make(map[string]string)
	}
	m.Header.Properties[key] = value
}

// GetProperty returns a property value and whether it was present.
func (m *Message) GetProperty(key string) (string, bool) {
	if m.Header.Properties == nil {
		return "", false
	}
	v, ok := m.Header.Properties[key]
	return v, ok
}

// HasProperty reports whether a property key is set.
func (m *Message) HasProperty(key string) bool {
	_, ok := m.GetProperty(key)
	return ok
}

// DeleteProperty removes a property key.
func (m *Message) DeleteProperty(key string) {
	if m.Header.Properties != nil {
		delete(m.Header.Properties, key)
	}
}

// IsExpired reports whether the message's expiration time has passed.
// A zero ExpireAt means the message never expires.
func (m *Message) IsExpired(now time.Time) bool {
	return !m.Header.ExpireAt.IsZero() && now.After(m.Header.ExpireAt)
}

// Clone returns a deep-enough copy suitable for fan-out delivery
// (broadcast, topic publish): the header and property map are copied,
// the payload bytes are shared (callers must not mutate payload bytes
// in place).
func (m *Message) Clone() *Message {
	cp := *m
	cp.Header.Properties = make(map[string]string, len(m.Header.Properties))
	for k, v := range m.Header.Properties {
		cp.Header.Properties[k] = v
	}
	return &cp
}

// Release frees any externally-owned payload exactly once.
func (m *Message) Release() {
	if m.Payload.External != nil {
		m.Payload.External.Release()
	}
}
