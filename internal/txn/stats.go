package txn

import (
	"sync"
	"time"
)

// stats accumulates transaction manager totals (§4.7).
type stats struct {
	mu sync.Mutex

	commits        uint64
	rollbacks      uint64
	timeouts       uint64
	totalCommitDur time.Duration
	totalRollback  time.Duration
}

func (s *stats) recordCommit(d time.Duration) {
	s.mu.Lock()
	s.commits++
	s.totalCommitDur += d
	s.mu.Unlock()
}

func (s *stats) recordRollback(d time.Duration) {
	s.mu.Lock()
	s.rollbacks++
	s.totalRollback += d
	s.mu.Unlock()
}

func (s *stats) recordTimeouts(n int) {
	s.mu.Lock()
	s.timeouts += uint64(n)
	s.mu.Unlock()
}

// Stats is a point-in-time snapshot of transaction manager activity.
type Stats struct {
	TotalCommits        uint64
	TotalRollbacks       uint64
	TotalTimeouts        uint64
	MeanCommitDuration   time.Duration
	MeanRollbackDuration time.Duration
}

// Stats returns a snapshot of commit/rollback/timeout totals and mean
// durations.
func (m *Manager) Stats() Stats {
	m.stats.mu.Lock()
	defer m.stats.mu.Unlock()

	var meanCommit, meanRollback time.Duration
	if m.stats.commits > 0 {
		meanCommit = m.stats.totalCommitDur / time.Duration(m.stats.commits)
	}
	if m.stats.rollbacks > 0 {
		meanRollback = m.stats.totalRollback / time.Duration(m.stats.rollbacks)
	}
	return Stats{
		TotalCommits:         m.stats.commits,
		TotalRollbacks:       m.stats.rollbacks,
		TotalTimeouts:        m.stats.timeouts,
		MeanCommitDuration:   meanCommit,
		MeanRollbackDuration: meanRollback,
	}
}
