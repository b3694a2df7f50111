package deadletter

import "github.com/helianthus/broker/internal/message"

// historyCapacity bounds the number of recent alerts retained for
// inspection via History.
const historyCapacity = 256

// recordHistory appends an alert to the bounded ring, evicting the
// oldest entry once full.
func (m *Monitor) recordHistory(a Alert) {
	m.mu.Lock()
	m.history = append(m.history, a)
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}
	m.mu.Unlock()
}

// History returns the most recently raised alerts, oldest first.
func (m *Monitor) History() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.history...)
}

// ReasonCounts returns the per-dead-letter-reason totals recorded for
// a queue.
func (m *Monitor) ReasonCounts(queueName string) map[message.DeadLetterReason]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[queueName]
	if !ok {
		return nil
	}
	out := make(map[message.DeadLetterReason]uint64, len(c.byReason))
	for k, v := range c.byReason {
		out[k] = v
	}
	return out
}
