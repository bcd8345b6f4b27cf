package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/scheduler"
)

// Expirable keeps the "{node_ref}.expire" scheduler slot in sync with the
// node's expires_at.
type Expirable struct {
	sched  scheduler.Scheduler
	lookup TraitsLookup
	clock  func() time.Time
	bump   time.Duration
}

// NewExpirable creates the expire watcher.
func NewExpirable(sched scheduler.Scheduler, lookup TraitsLookup, opts ...Option) *Expirable {
	w := &Expirable{sched: sched, lookup: lookup, clock: time.Now, bump: DefaultScheduleBump}
	for _, opt := range opts {
		opt.applyExpirable(w)
	}
	return w
}

// HandleEvent implements Watcher.
func (w *Expirable) HandleEvent(ctx context.Context, evt *domain.Event) error {
	if !w.lookup(evt.NodeRef.Label).Expirable {
		return nil
	}

	switch p := evt.Payload.(type) {
	case *domain.NodeCreatedPayload:
		if p.Node.ExpiresAt == nil {
			return nil
		}
		return w.schedule(ctx, evt, *p.Node.ExpiresAt)

	case *domain.NodeUpdatedPayload:
		oldAt, newAt := p.Old.ExpiresAt, p.New.ExpiresAt
		switch {
		case equalTime(oldAt, newAt):
			return nil
		case newAt == nil:
			// Expiry cleared; scheduling it would be a stale job.
			return w.sched.Cancel(ctx, evt.NodeRef.ExpireJobID())
		default:
			// Re-sending under the same job key replaces the pending job.
			return w.schedule(ctx, evt, *newAt)
		}

	case *domain.NodeDeletedPayload,
		*domain.NodeExpiredPayload,
		*domain.NodeUnpublishedPayload:
		return w.sched.Cancel(ctx, evt.NodeRef.ExpireJobID())
	}
	return nil
}

func (w *Expirable) schedule(ctx context.Context, evt *domain.Event, at time.Time) error {
	now := w.clock().UTC()
	if !at.After(now) {
		at = now.Add(w.bump)
	}
	cmd := &domain.ExpireNode{
		CommandBase: domain.CommandBase{Ref: evt.NodeRef, CtxUserRef: evt.CtxUserRef},
	}
	logger.Debug("scheduling deferred expire",
		zap.String("node_ref", evt.NodeRef.String()),
		zap.Time("at", at),
	)
	return w.sched.SendAt(ctx, cmd, at, evt.NodeRef.ExpireJobID())
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
