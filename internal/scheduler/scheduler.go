// Package scheduler implements the broker's delayed/recurring/retry
// dispatcher (C5, §4.4): a single due-time-ordered min-heap serving
// three kinds of deferred work — one-shot delayed sends, recurring
// sends on a fixed interval, and rejected-message retries handed off
// by internal/queue's retry-handler hook.
package scheduler

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helianthus/broker/internal/message"
	"github.com/helianthus/broker/internal/queue"
)

// Scheduler runs a single background goroutine that wakes exactly when
// the next due task is ready, rather than polling on a fixed tick.
// Inserting a task that is due sooner than everything already queued
// wakes the goroutine early via wake.
type Scheduler struct {
	mu      sync.Mutex
	tasks   dueHeap
	byID    map[uint64]*task
	nextSeq atomic.Uint64

	wake    chan struct{}
	stop    chan struct{}
	stopped atomic.Bool
	done    chan struct{}
}

// New creates a scheduler. Call Start to begin dispatching.
func New() *Scheduler {
	return &Scheduler{
		byID: make(map[uint64]*task),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the dispatch loop in a background goroutine. Calling
// Start more than once is a no-op after the first call.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the dispatch loop. Pending tasks are discarded.
func (s *Scheduler) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stop)
		<-s.done
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var nextDue time.Time
		hasNext := len(s.tasks) > 0
		if hasNext {
			nextDue = s.tasks[0].dueAt
		}
		s.mu.Unlock()

		if !hasNext {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}

		delay := time.Until(nextDue)
		if delay <= 0 {
			s.fireDue()
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)

		select {
		case <-timer.C:
			s.fireDue()
		case <-s.wake:
			continue
		case <-s.stop:
			return
		}
	}
}

// fireDue pops and fires every task whose due time has arrived.
func (s *Scheduler) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 || s.tasks[0].dueAt.After(now) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.tasks).(*task)
		delete(s.byID, t.id)
		s.mu.Unlock()

		s.dispatch(t)
	}
}

func (s *Scheduler) dispatch(t *task) {
	switch t.kind {
	case kindDelayed:
		t.send(t.queueName, t.msg)
	case kindRetry:
		t.target.Requeue(t.msg)
	case kindRecurring:
		clone := t.msg.Clone()
		clone.Header.ID = 0
		if t.remaining > 0 {
			t.remaining--
		}
		if t.remaining != 0 {
			t.dueAt = time.Now().Add(t.interval)
			s.mu.Lock()
			heap.Push(&s.tasks, t)
			s.byID[t.id] = t
			s.mu.Unlock()
			s.signalWake()
		}
		t.send(t.queueName, clone)
	}
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) nextTaskID() uint64 {
	return s.nextSeq.Add(1)
}

// ScheduleDelayed arranges for msg to be sent via send at delay from
// now (§4.4's DelayedMessage). send re-enters the facade's normal send
// pipeline rather than touching a raw queue. Returns an ID that can be
// passed to Cancel.
func (s *Scheduler) ScheduleDelayed(queueName string, msg *message.Message, delay time.Duration, send SendFunc) uint64 {
	return s.schedule(kindDelayed, queueName, nil, msg, time.Now().Add(delay), 0, send)
}

// ScheduleRecurring arranges for a clone of msg to be sent via send
// every interval, starting at the first interval elapsing (§4.4's
// RecurringMessage). send re-enters the facade's normal send pipeline.
// Returns an ID that can be passed to Cancel to stop future firings.
func (s *Scheduler) ScheduleRecurring(queueName string, msg *message.Message, interval time.Duration, send SendFunc) uint64 {
	return s.schedule(kindRecurring, queueName, nil, msg, time.Now().Add(interval), interval, send)
}

// ScheduleRetry arranges for msg to be requeued into target at at
// (§4.2's rejected-with-requeue path, wired via Queue.SetRetryHandler).
// This bypasses the send pipeline deliberately: the message was
// already WAL-appended and replicated on its original send, and a
// retry is not a new message entering the system.
func (s *Scheduler) ScheduleRetry(target *queue.Queue, msg *message.Message, at time.Time) uint64 {
	return s.schedule(kindRetry, "", target, msg, at, 0, nil)
}

func (s *Scheduler) schedule(k kind, queueName string, target *queue.Queue, msg *message.Message, dueAt time.Time, interval time.Duration, send SendFunc) uint64 {
	t := &task{
		id:        s.nextTaskID(),
		kind:      k,
		dueAt:     dueAt,
		interval:  interval,
		queueName: queueName,
		send:      send,
		target:    target,
		msg:       msg,
	}
	if k == kindRecurring {
		t.remaining = -1
	}
	s.mu.Lock()
	heap.Push(&s.tasks, t)
	s.byID[t.id] = t
	s.mu.Unlock()
	s.signalWake()
	return t.id
}

// Cancel removes a scheduled task (delayed, recurring, or retry) by
// ID. Returns false if the ID is unknown (already fired, or never
// existed).
func (s *Scheduler) Cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.tasks, t.index)
	delete(s.byID, id)
	return true
}

// Len returns the number of pending scheduled tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
