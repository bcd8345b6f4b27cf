// Package aggregate is the event-sourcing core: it turns commands into
// events, applies events to rebuild the node snapshot, buffers uncommitted
// events, and syncs against the authoritative event stream.
package aggregate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

// DefaultAnticipationThreshold is the grace window for the publish timing
// rule: a publish_at within now+threshold publishes immediately instead of
// going through the scheduler.
const DefaultAnticipationThreshold = 15 * time.Second

// Enricher gets a chance to add derived fields to an event before it is
// frozen and recorded.
type Enricher func(node *domain.Node, evt *domain.Event)

// Option configures an Aggregate at construction.
type Option func(*Aggregate)

// WithClock overrides the time source. Tests use it to pin occurred_at.
func WithClock(clock func() time.Time) Option {
	return func(a *Aggregate) { a.clock = clock }
}

// WithEnricher registers a lifecycle enricher. Enrichers run in
// registration order on every recorded event.
func WithEnricher(e Enricher) Option {
	return func(a *Aggregate) { a.enrichers = append(a.enrichers, e) }
}

// WithAnticipationThreshold overrides the publish timing grace window.
func WithAnticipationThreshold(d time.Duration) Option {
	return func(a *Aggregate) {
		if d > 0 {
			a.anticipation = d
		}
	}
}

// Aggregate owns one node's lifecycle. It is not safe for concurrent use;
// the engine assumes exactly one logical writer per node at a time, with
// the read-model etag check catching the exceptions.
type Aggregate struct {
	ref    domain.NodeRef
	node   domain.Node
	traits domain.Traits

	uncommitted     []domain.Event
	needsFullReplay bool

	store        eventstore.Store
	enrichers    []Enricher
	clock        func() time.Time
	anticipation time.Duration
}

// FromNode starts from a known snapshot, usually the read-model row. The
// snapshot may be stale; Sync catches it up from its updated_at.
func FromNode(store eventstore.Store, node domain.Node, traits domain.Traits, opts ...Option) *Aggregate {
	a := newAggregate(store, node.Ref, traits, opts...)
	a.node = node.Clone()
	return a
}

// FromNodeRef starts from an empty default node. With no snapshot to
// trust, the next Sync replays the entire stream.
func FromNodeRef(store eventstore.Store, ref domain.NodeRef, traits domain.Traits, opts ...Option) *Aggregate {
	a := newAggregate(store, ref, traits, opts...)
	a.node = domain.Node{Ref: ref}
	a.needsFullReplay = true
	return a
}

func newAggregate(store eventstore.Store, ref domain.NodeRef, traits domain.Traits, opts ...Option) *Aggregate {
	a := &Aggregate{
		ref:          ref,
		traits:       traits,
		store:        store,
		clock:        time.Now,
		anticipation: DefaultAnticipationThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ref returns the aggregate identity.
func (a *Aggregate) Ref() domain.NodeRef { return a.ref }

// Node returns a copy of the current in-memory snapshot.
func (a *Aggregate) Node() domain.Node { return a.node.Clone() }

// Traits returns the capability set of this node's entity label.
func (a *Aggregate) Traits() domain.Traits { return a.traits }

// HasUncommittedEvents reports whether recorded events await Commit.
func (a *Aggregate) HasUncommittedEvents() bool { return len(a.uncommitted) > 0 }

// UncommittedEvents returns a copy of the uncommitted buffer in record
// order.
func (a *Aggregate) UncommittedEvents() []domain.Event {
	out := make([]domain.Event, len(a.uncommitted))
	copy(out, a.uncommitted)
	return out
}

// ClearUncommittedEvents drops the buffer without committing.
func (a *Aggregate) ClearUncommittedEvents() { a.uncommitted = nil }

// Commit appends the buffered events to the event store under this
// aggregate's stream id, all-or-nothing, then clears the buffer. A commit
// with an empty buffer is a no-op.
func (a *Aggregate) Commit(ctx context.Context) error {
	if len(a.uncommitted) == 0 {
		return nil
	}
	if err := a.store.Append(ctx, a.ref.StreamID(), a.uncommitted, nil); err != nil {
		return err
	}
	a.uncommitted = nil
	a.needsFullReplay = false
	return nil
}

// Sync catches the snapshot up to the tip of the event stream. The stream
// is authoritative; the read-model snapshot is only a cache. Calling Sync
// with uncommitted events is a protocol violation and fails hard.
//
// Events at exactly the cursor timestamp are re-applied; apply is
// idempotent per event so re-application is harmless.
func (a *Aggregate) Sync(ctx context.Context) error {
	if len(a.uncommitted) > 0 {
		return apperrors.Internal(apperrors.CodeDirtySync,
			"sync called with uncommitted events").
			WithParams(map[string]interface{}{
				"node_ref":    a.ref.String(),
				"uncommitted": len(a.uncommitted),
			})
	}

	var since *time.Time
	if !a.needsFullReplay {
		switch {
		case !a.node.UpdatedAt.IsZero():
			t := a.node.UpdatedAt
			since = &t
		case !a.node.CreatedAt.IsZero():
			t := a.node.CreatedAt
			since = &t
		}
	}

	it := a.store.PipeAll(ctx, a.ref.StreamID(), since)
	for it.Next(ctx) {
		domain.Apply(&a.node, it.Event())
	}
	if err := it.Err(); err != nil {
		return err
	}

	a.needsFullReplay = false
	return nil
}

// checkIdentity hard-fails when a command targets a different node. This
// is a caller bug, never a business condition.
func (a *Aggregate) checkIdentity(cmd domain.Command) error {
	if cmd.NodeRef() != a.ref {
		return apperrors.Internal(apperrors.CodeIdentityMismatch,
			"command node ref does not match aggregate identity").
			WithParams(map[string]interface{}{
				"aggregate_ref": a.ref.String(),
				"command_ref":   cmd.NodeRef().String(),
				"command_type":  string(cmd.CommandType()),
			})
	}
	return nil
}

// record runs the recording protocol: build the event, let enrichers add
// derived fields, freeze it, buffer it, and apply it to the in-memory
// snapshot so the next command in sequence sees its effect.
func (a *Aggregate) record(cmd domain.Command, payload domain.EventPayload) {
	evt := &domain.Event{
		ID:         uuid.NewString(),
		NodeRef:    a.ref,
		OccurredAt: a.clock().UTC(),
		CtxUserRef: cmd.ActorRef(),
	}
	evt.SetPayload(payload)

	for _, enrich := range a.enrichers {
		enrich(&a.node, evt)
	}
	evt.Freeze()

	a.uncommitted = append(a.uncommitted, *evt)
	domain.Apply(&a.node, evt)
}
