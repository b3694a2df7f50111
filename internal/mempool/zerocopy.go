package mempool

import "github.com/helianthus/broker/internal/message"

// ZeroCopyBuffer wraps an externally-owned byte slice so a message can
// reference it without copying (§4.11). Release invokes the
// deallocator at most once.
type ZeroCopyBuffer struct {
	data     []byte
	dealloc  func([]byte)
	released bool
}

// CreateBuffer wraps data (owned by the caller) into a zero-copy
// buffer. dealloc may be nil if the caller does not need notification
// when the buffer is released.
func CreateBuffer(data []byte, dealloc func([]byte)) *ZeroCopyBuffer {
	return &ZeroCopyBuffer{data: data, dealloc: dealloc}
}

// Bytes returns the wrapped data without copying it.
func (b *ZeroCopyBuffer) Bytes() []byte {
	return b.data
}

// Release invokes the deallocator exactly once, if any was supplied.
func (b *ZeroCopyBuffer) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	if b.dealloc != nil {
		b.dealloc(b.data)
	}
}

// ToPayload constructs a message.Payload referencing this buffer
// without copying its bytes.
func (b *ZeroCopyBuffer) ToPayload() message.Payload {
	return message.Payload{
		External: &message.ExternalPayload{
			Data:    b.data,
			Dealloc: func([]byte) { b.Release() },
		},
	}
}
