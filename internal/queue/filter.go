package queue

import (
	"github.com/helianthus/broker/internal/message"
)

// FilterFunc decides whether a message may enter the queue it is
// attached to. A false result fails the send with InvalidParameter
// rather than silently dropping the message (§4.2).
type FilterFunc func(*message.Message) bool

// SetFilter installs (or, with nil, clears) the queue's send filter.
func (q *Queue) SetFilter(fn FilterFunc) {
	q.mu.Lock()
	q.filter = fn
	q.mu.Unlock()
}

// SetRouter installs (or, with nil, clears) the queue's routing table:
// every message that passes the filter and is accepted by Send is
// also forwarded, best-effort, to each target queue. The original
// message is not removed from its source path.
func (q *Queue) SetRouter(targets map[string]*Queue) {
	q.mu.Lock()
	q.routerTargets = targets
	q.mu.Unlock()
}

// route forwards a clone of msg to every configured router target.
// Per-target failures are swallowed: routing is best-effort and never
// fails the originating send.
func (q *Queue) route(msg *message.Message, nextID func() uint64) {
	q.mu.RLock()
	targets := q.routerTargets
	q.mu.RUnlock()
	for _, target := range targets {
		cp := msg.Clone()
		cp.Header.ID = 0
		target.Send(cp, nextID)
	}
}
