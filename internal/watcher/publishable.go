package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/scheduler"
)

// Publishable keeps the "{node_ref}.publish" scheduler slot in sync with
// the node's workflow state.
type Publishable struct {
	sched  scheduler.Scheduler
	lookup TraitsLookup
	clock  func() time.Time
	bump   time.Duration
}

// NewPublishable creates the publish watcher.
func NewPublishable(sched scheduler.Scheduler, lookup TraitsLookup, opts ...Option) *Publishable {
	w := &Publishable{sched: sched, lookup: lookup, clock: time.Now, bump: DefaultScheduleBump}
	for _, opt := range opts {
		opt.applyPublishable(w)
	}
	return w
}

// HandleEvent implements Watcher.
func (w *Publishable) HandleEvent(ctx context.Context, evt *domain.Event) error {
	if !w.lookup(evt.NodeRef.Label).Publishable {
		return nil
	}

	switch p := evt.Payload.(type) {
	case *domain.NodeScheduledPayload:
		at := p.PublishAt
		now := w.clock().UTC()
		if !at.After(now) {
			// Lost the race with the clock; never schedule in the past.
			at = now.Add(w.bump)
		}
		cmd := &domain.PublishNode{
			CommandBase: domain.CommandBase{Ref: evt.NodeRef, CtxUserRef: evt.CtxUserRef},
			PublishAt:   &p.PublishAt,
		}
		logger.Debug("scheduling deferred publish",
			zap.String("node_ref", evt.NodeRef.String()),
			zap.Time("at", at),
		)
		return w.sched.SendAt(ctx, cmd, at, evt.NodeRef.PublishJobID())

	case *domain.NodeDeletedPayload,
		*domain.NodeExpiredPayload,
		*domain.NodeUnpublishedPayload,
		*domain.NodeMarkedAsDraftPayload,
		*domain.NodeMarkedAsPendingPayload:
		return w.sched.Cancel(ctx, evt.NodeRef.PublishJobID())
	}
	return nil
}
