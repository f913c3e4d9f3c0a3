package application

import (
	"sync"
	"time"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
)

const (
	maxEarlyResults = 32
	earlyResultTTL  = time.Hour
)

type timedResult struct {
	domain.DungeonResolved
	timestamp time.Time
}

// earlyResults holds resolutions for the account that arrived before the
// session knew which request it is waiting on.
type earlyResults struct {
	lock    *sync.Mutex
	results []timedResult
}

func newEarlyResults() *earlyResults {
	return &earlyResults{&sync.Mutex{}, make([]timedResult, 0)}
}

func (m *earlyResults) push(result domain.DungeonResolved) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.prune()
	if len(m.results) >= maxEarlyResults {
		m.results = m.results[1:]
	}
	m.results = append(m.results, timedResult{result, time.Now()})
}

// pop removes and returns the first result matching the session's
// outstanding request.
func (m *earlyResults) pop(session *domain.DungeonSession) (*domain.DungeonResolved, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i, r := range m.results {
		if session.IsOutstanding(r.RequestId) {
			m.results = append(m.results[:i], m.results[i+1:]...)
			result := r.DungeonResolved
			return &result, true
		}
	}
	return nil, false
}

func (m *earlyResults) len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.results)
}

func (m *earlyResults) clear() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.results = make([]timedResult, 0)
}

func (m *earlyResults) prune() {
	results := make([]timedResult, 0, len(m.results))
	for _, r := range m.results {
		if time.Since(r.timestamp) < earlyResultTTL {
			results = append(results, r)
		}
	}
	m.results = results
}

type nopMetrics struct{}

func (nopMetrics) AttemptEnded(string)                  {}
func (nopMetrics) StageCompleted(string, time.Duration) {}
func (nopMetrics) OracleFetched(time.Duration, error)   {}
func (nopMetrics) ChainEventReceived(string)            {}
func (nopMetrics) ChainEventIgnored(string)             {}

var _ ports.Metrics = nopMetrics{}
