package scheduler

import (
	"context"
	"sync"
	"time"

	"nodelife.io/nodelife/internal/domain"
)

// ScheduledJob is a pending in-memory delivery.
type ScheduledJob struct {
	JobKey  string
	Command domain.Command
	At      time.Time
}

// MemoryScheduler records scheduling calls without delivering anything.
// Watcher and projector tests assert against its state.
type MemoryScheduler struct {
	mu        sync.Mutex
	pending   map[string]ScheduledJob
	cancelled []string
}

// NewMemoryScheduler creates an empty in-memory scheduler.
func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{pending: make(map[string]ScheduledJob)}
}

// SendAt implements Scheduler.
func (s *MemoryScheduler) SendAt(_ context.Context, cmd domain.Command, at time.Time, jobKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[jobKey] = ScheduledJob{JobKey: jobKey, Command: cmd, At: at}
	return nil
}

// Cancel implements Scheduler.
func (s *MemoryScheduler) Cancel(_ context.Context, jobKeys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, jobKey := range jobKeys {
		delete(s.pending, jobKey)
		s.cancelled = append(s.cancelled, jobKey)
	}
	return nil
}

// Pending returns the scheduled job for jobKey, if any.
func (s *MemoryScheduler) Pending(jobKey string) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.pending[jobKey]
	return job, ok
}

// PendingCount returns the number of pending deliveries.
func (s *MemoryScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cancelled returns every job key passed to Cancel, in call order,
// including keys that had no pending delivery.
func (s *MemoryScheduler) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cancelled))
	copy(out, s.cancelled)
	return out
}
