package queue

import (
	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/resultcode"
)

// Broadcast delivers a copy of msg to every queue in targets via
// Send, for TypeBroadcast fan-out (§3). Best-effort: a failure on one
// target (e.g. QueueFull) does not prevent delivery to the rest; all
// per-target errors are returned together.
func Broadcast(targets []*Queue, msg *message.Message, nextID func() uint64) []error {
	var errs []error
	for _, target := range targets {
		cp := msg.Clone()
		cp.Header.ID = 0
		if err := target.Send(cp, nextID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// EnsureType returns InvalidState if the queue is not of the expected
// type, used by the facade to validate broadcast/priority-specific
// operations before dispatching to a Queue.
func EnsureType(q *Queue, want Type) error {
	if q.Config.Type != want {
		return resultcode.New(resultcode.InvalidState, q.Config.Name)
	}
	return nil
}
