package eventstore

import (
	"context"
	"sync"
	"time"

	"nodelife.io/nodelife/internal/domain"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

// MemoryStore is an in-process Store used by tests and the seed tool.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]domain.Event
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]domain.Event)}
}

// Append implements Store. The whole batch is appended under one lock so
// the per-call atomicity contract holds.
func (s *MemoryStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion *int64) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedVersion != nil && int64(len(s.streams[streamID])) != *expectedVersion {
		return apperrors.Conflict(apperrors.CodeEventStoreFailure, "stream version mismatch").
			WithParams(map[string]interface{}{
				"stream_id":        streamID,
				"expected_version": *expectedVersion,
				"actual_version":   len(s.streams[streamID]),
			})
	}
	s.streams[streamID] = append(s.streams[streamID], events...)
	return nil
}

// ReadSlice implements Store.
func (s *MemoryStore) ReadSlice(ctx context.Context, streamID string, since *time.Time, count int, forward, consistent bool) (Slice, error) {
	s.mu.RLock()
	all := append([]domain.Event(nil), s.streams[streamID]...)
	s.mu.RUnlock()

	filtered := all[:0:0]
	for _, evt := range all {
		if since != nil && evt.OccurredAt.Before(*since) {
			continue
		}
		filtered = append(filtered, evt)
	}
	if !forward {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	hasMore := count > 0 && len(filtered) > count
	if hasMore {
		filtered = filtered[:count]
	}

	slice := Slice{Events: filtered, HasMore: hasMore}
	if len(filtered) > 0 {
		last := filtered[len(filtered)-1].OccurredAt
		slice.LastOccurredAt = &last
	}
	return slice, nil
}

// PipeAll implements Store.
func (s *MemoryStore) PipeAll(ctx context.Context, streamID string, since *time.Time) Iterator {
	s.mu.RLock()
	all := append([]domain.Event(nil), s.streams[streamID]...)
	s.mu.RUnlock()

	events := all[:0:0]
	for _, evt := range all {
		if since != nil && evt.OccurredAt.Before(*since) {
			continue
		}
		events = append(events, evt)
	}
	return &memoryIterator{events: events, pos: -1}
}

// StreamLen reports the number of events in a stream. Test helper.
func (s *MemoryStore) StreamLen(streamID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[streamID])
}

type memoryIterator struct {
	events []domain.Event
	pos    int
}

func (it *memoryIterator) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	it.pos++
	return it.pos < len(it.events)
}

func (it *memoryIterator) Event() *domain.Event {
	evt := it.events[it.pos]
	return &evt
}

func (it *memoryIterator) Err() error { return nil }
