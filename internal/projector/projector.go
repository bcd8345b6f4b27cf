// Package projector reconciles the read-model store and search index
// against committed events. It is the only writer of the read-model; the
// event stream stays authoritative.
package projector

import (
	"context"

	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/ncr"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/search"
	"nodelife.io/nodelife/internal/watcher"
)

// Projector materializes events into the read-model and, for live events,
// the search index and watcher-driven schedules. Events with the replay
// flag update the read-model only: reindexing and rescheduling during a
// history rebuild are deferred to separate batch passes.
type Projector struct {
	store    ncr.Store
	index    search.Index
	watchers []watcher.Watcher
}

// New creates a projector over the read-model store, the search index and
// the watchers subscribed to projected events.
func New(store ncr.Store, index search.Index, watchers ...watcher.Watcher) *Projector {
	return &Projector{store: store, index: index, watchers: watchers}
}

// HandleEvent projects one committed event.
func (p *Projector) HandleEvent(ctx context.Context, evt *domain.Event) error {
	node, removed, err := p.project(ctx, evt)
	if err != nil {
		return err
	}

	if evt.Replay {
		return nil
	}

	if err := p.syncSearch(ctx, evt, node, removed); err != nil {
		return err
	}

	for _, w := range p.watchers {
		if err := w.HandleEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// project applies the event's mutation to the read-model under optimistic
// concurrency. It returns the written snapshot and whether the row was
// removed. A conflicting write surfaces as OPTIMISTIC_CHECK_FAILED; the
// projector never retries, since a blind retry-with-reread risks
// double-applying side effects a concurrent worker already committed.
func (p *Projector) project(ctx context.Context, evt *domain.Event) (domain.Node, bool, error) {
	switch payload := evt.Payload.(type) {
	case *domain.NodeCreatedPayload:
		// No prior row to condition on.
		var node domain.Node
		domain.Apply(&node, evt)
		return node, false, p.store.Put(ctx, node, nil)

	case *domain.NodeUpdatedPayload:
		// The command path already observed the prior etag; a fresh read
		// could be more current than the event and mask a lost race.
		node := payload.Old.Clone()
		domain.Apply(&node, evt)
		return node, false, p.store.Put(ctx, node, &payload.OldEtag)

	case *domain.NodeDeletedPayload:
		node, observed, err := p.current(ctx, evt)
		if err != nil {
			return domain.Node{}, false, err
		}
		domain.Apply(&node, evt)
		if payload.Hard {
			if err := p.store.Delete(ctx, evt.NodeRef); err != nil {
				return domain.Node{}, false, err
			}
			return node, true, nil
		}
		if err := p.store.Put(ctx, node, &observed); err != nil {
			return domain.Node{}, false, err
		}
		// A deleted node gives its slug back to the family.
		if payload.Slug != "" {
			if err := p.store.ReleaseSlug(ctx, evt.NodeRef, payload.Slug); err != nil {
				return domain.Node{}, false, err
			}
		}
		return node, false, nil

	case *domain.NodeRenamedPayload:
		node, observed, err := p.current(ctx, evt)
		if err != nil {
			return domain.Node{}, false, err
		}
		domain.Apply(&node, evt)
		if err := p.store.Put(ctx, node, &observed); err != nil {
			return domain.Node{}, false, err
		}
		if payload.OldSlug != "" && payload.OldSlug != node.Slug {
			if err := p.store.ReleaseSlug(ctx, evt.NodeRef, payload.OldSlug); err != nil {
				return domain.Node{}, false, err
			}
		}
		return node, false, nil

	default:
		node, observed, err := p.current(ctx, evt)
		if err != nil {
			return domain.Node{}, false, err
		}
		domain.Apply(&node, evt)
		return node, false, p.store.Put(ctx, node, &observed)
	}
}

// current fetches the read-model row with a consistent read and returns
// it together with the etag the conditional write must match.
func (p *Projector) current(ctx context.Context, evt *domain.Event) (domain.Node, string, error) {
	node, err := p.store.Get(ctx, evt.NodeRef, true)
	if err != nil {
		logger.Error("read-model fetch failed during projection",
			zap.String("node_ref", evt.NodeRef.String()),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err),
		)
		return domain.Node{}, "", err
	}
	return node, node.Etag, nil
}

// syncSearch keeps the index holding exactly the published nodes.
func (p *Projector) syncSearch(ctx context.Context, evt *domain.Event, node domain.Node, removed bool) error {
	if !removed && node.Status == domain.StatusPublished {
		return p.index.IndexBatch(ctx, []domain.Node{node})
	}
	return p.index.DeleteBatch(ctx, []domain.NodeRef{evt.NodeRef})
}
