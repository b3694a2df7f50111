package scheduler

import (
	"container/heap"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/queue"
)

// kind distinguishes the three scheduled-task shapes the broker
// dispatches through the same due-time-ordered heap (§4.4/§4.5).
type kind int

const (
	kindDelayed kind = iota
	kindRecurring
	kindRetry
)

// SendFunc re-enters the facade's normal send pipeline (codec encode,
// WAL append, replication ack wait, metrics) for a scheduled message,
// instead of touching the raw queue. Used by kindDelayed/kindRecurring.
type SendFunc func(queueName string, msg *message.Message) error

// task is one entry in the scheduler's due-time min-heap.
type task struct {
	id        uint64
	kind      kind
	dueAt     time.Time
	interval  time.Duration // kindRecurring only
	remaining int           // kindRecurring only: -1 unbounded, else firings left
	queueName string        // kindDelayed/kindRecurring only
	send      SendFunc      // kindDelayed/kindRecurring only
	target    *queue.Queue  // kindRetry only: requeues on the raw queue, bypassing Send
	msg       *message.Message
	index     int // position in the heap, maintained by dueHeap.Swap
}

// dueHeap orders tasks by due time ascending, id ascending as a
// tiebreak, implementing container/heap.Interface.
type dueHeap []*task

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	if !h[i].dueAt.Equal(h[j].dueAt) {
		return h[i].dueAt.Before(h[j].dueAt)
	}
	return h[i].id < h[j].id
}

func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *dueHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ = heap.Interface(&dueHeap{})
