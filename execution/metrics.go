package execution

import (
	"sort"
	"sync"
	"time"
)

// MeanMetric accumulates a count and a sum of millisecond durations.
type MeanMetric struct {
	mu    sync.Mutex
	count int64
	sum   int64
}

func (m *MeanMetric) Inc(d time.Duration) {
	m.mu.Lock()
	m.count++
	m.sum += d.Milliseconds()
	m.mu.Unlock()
}

func (m *MeanMetric) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *MeanMetric) Sum() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sum
}

func (m *MeanMetric) Mean() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	return float64(m.sum) / float64(m.count)
}

// Stats holds usage counters of the execution service.
type Stats struct {
	executions MeanMetric
	mu         sync.Mutex
	actions    map[string]*MeanMetric
}

func newStats() *Stats {
	return &Stats{actions: map[string]*MeanMetric{}}
}

func (s *Stats) recordExecution(d time.Duration) {
	s.executions.Inc(d)
}

func (s *Stats) recordAction(actionType string, d time.Duration) {
	s.mu.Lock()
	metric := s.actions[actionType]
	if metric == nil {
		metric = &MeanMetric{}
		s.actions[actionType] = metric
	}
	s.mu.Unlock()
	metric.Inc(d)
}

// Usage flattens the counters into dotted keys.
func (s *Stats) Usage() map[string]any {
	out := map[string]any{
		"execution.actions._all.total":            s.executions.Count(),
		"execution.actions._all.total_time_in_ms": s.executions.Sum(),
	}
	s.mu.Lock()
	types := make([]string, 0, len(s.actions))
	for t := range s.actions {
		types = append(types, t)
	}
	s.mu.Unlock()
	sort.Strings(types)
	for _, t := range types {
		s.mu.Lock()
		metric := s.actions[t]
		s.mu.Unlock()
		out["execution.actions."+t+".total"] = metric.Count()
		out["execution.actions."+t+".total_time_in_ms"] = metric.Sum()
	}
	return out
}
