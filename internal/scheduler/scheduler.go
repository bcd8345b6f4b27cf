// Package scheduler delivers commands back to the engine at a future
// point in time. Watchers use it to make publish_at and expires_at
// deadlines fire without any process holding a timer.
package scheduler

import (
	"context"
	"time"

	"nodelife.io/nodelife/internal/domain"
)

// Scheduler enqueues a command for future delivery and cancels pending
// deliveries. A job key identifies the logical slot (one publish slot
// and one expire slot per node); scheduling on an occupied key replaces
// the previous delivery.
type Scheduler interface {
	// SendAt schedules cmd for delivery at the given time under jobKey.
	// A pending delivery with the same key is replaced.
	SendAt(ctx context.Context, cmd domain.Command, at time.Time, jobKey string) error

	// Cancel drops the pending deliveries for the given job keys.
	// Unknown keys are ignored.
	Cancel(ctx context.Context, jobKeys ...string) error
}
