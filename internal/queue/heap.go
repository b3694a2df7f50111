package queue

import (
	"container/heap"
	"time"

	"github.com/helianthus/broker/internal/message"
)

// entry wraps a message with the sequence number used to break
// priority ties in FIFO order (§4.2: "within the same priority,
// messages are delivered in enqueue order").
type entry struct {
	msg *message.Message
	seq uint64
}

// priorityHeap orders entries by priority descending, then by
// sequence ascending, implementing container/heap.Interface.
type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Header.Priority != h[j].msg.Header.Priority {
		return h[i].msg.Header.Priority > h[j].msg.Header.Priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// container is the ordered backing store for a queue's ready
// messages: a plain FIFO slice-as-ring for STANDARD/BROADCAST queues,
// or a container/heap priority queue when PriorityEnabled.
type container struct {
	priority bool
	heap     priorityHeap
	fifo     []*entry
	nextSeq  uint64
}

func newContainer(priorityEnabled bool) *container {
	c := &container{priority: priorityEnabled}
	if priorityEnabled {
		heap.Init(&c.heap)
	}
	return c
}

func (c *container) push(msg *message.Message) {
	e := &entry{msg: msg, seq: c.nextSeq}
	c.nextSeq++
	if c.priority {
		heap.Push(&c.heap, e)
		return
	}
	c.fifo = append(c.fifo, e)
}

// peek returns the next message without removing it.
func (c *container) peek() *message.Message {
	if c.priority {
		if len(c.heap) == 0 {
			return nil
		}
		return c.heap[0].msg
	}
	if len(c.fifo) == 0 {
		return nil
	}
	return c.fifo[0].msg
}

// pop removes and returns the next message.
func (c *container) pop() *message.Message {
	if c.priority {
		if len(c.heap) == 0 {
			return nil
		}
		return heap.Pop(&c.heap).(*entry).msg
	}
	if len(c.fifo) == 0 {
		return nil
	}
	e := c.fifo[0]
	c.fifo = c.fifo[1:]
	return e.msg
}

func (c *container) len() int {
	if c.priority {
		return len(c.heap)
	}
	return len(c.fifo)
}

// removeExpired drops messages whose ExpireAt has passed, invoking fn
// for each one removed (used to route them to the dead-letter queue).
func (c *container) removeExpired(now time.Time, fn func(*message.Message)) {
	if c.priority {
		kept := c.heap[:0]
		for _, e := range c.heap {
			if e.msg.IsExpired(now) {
				fn(e.msg)
				continue
			}
			kept = append(kept, e)
		}
		c.heap = kept
		heap.Init(&c.heap)
		return
	}
	kept := c.fifo[:0]
	for _, e := range c.fifo {
		if e.msg.IsExpired(now) {
			fn(e.msg)
			continue
		}
		kept = append(kept, e)
	}
	c.fifo = kept
}
