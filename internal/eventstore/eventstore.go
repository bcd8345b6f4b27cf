// Package eventstore defines the append-only, per-stream ordered event log
// consumed by the aggregate, plus its default implementations.
package eventstore

import (
	"context"
	"time"

	"nodelife.io/nodelife/internal/domain"
)

// Slice is one page of a stream read.
type Slice struct {
	Events  []domain.Event
	HasMore bool

	// LastOccurredAt is the occurred_at of the last event in the slice,
	// usable as a cursor for the next read.
	LastOccurredAt *time.Time
}

// Iterator lazily walks a stream in order. Usage mirrors pgx rows:
//
//	it := store.PipeAll(ctx, streamID, nil)
//	for it.Next(ctx) {
//		evt := it.Event()
//	}
//	err := it.Err()
type Iterator interface {
	Next(ctx context.Context) bool
	Event() *domain.Event
	Err() error
}

// Store is the event log interface. Appends are atomic per call: either
// every event in the batch is durably appended or none is.
type Store interface {
	// Append appends events to a stream. A non-nil expectedVersion makes
	// the append conditional on the stream currently holding exactly that
	// many events.
	Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion *int64) error

	// ReadSlice reads up to count events, ordered by append sequence.
	// A non-nil since restricts to events with occurred_at at or after it.
	ReadSlice(ctx context.Context, streamID string, since *time.Time, count int, forward, consistent bool) (Slice, error)

	// PipeAll returns a lazy ordered iterator over the whole stream,
	// optionally starting from a cursor.
	PipeAll(ctx context.Context, streamID string, since *time.Time) Iterator
}
