// Package watcher derives future commands from projected events. Watchers
// are stateless: everything they schedule or cancel is a deterministic
// function of the event they see, so re-projecting live events converges
// on the same scheduler state.
package watcher

import (
	"context"
	"time"

	"nodelife.io/nodelife/internal/domain"
)

// DefaultScheduleBump is the fixed margin a past-due target time is moved
// forward by instead of being scheduled in the past.
const DefaultScheduleBump = 5 * time.Second

// TraitsLookup resolves the capability set of an entity label. Watchers
// only act on labels that declare the matching capability.
type TraitsLookup func(label string) domain.Traits

// Watcher reacts to one projected event. The projector only feeds live
// events here; replay suppression happens upstream.
type Watcher interface {
	HandleEvent(ctx context.Context, evt *domain.Event) error
}

// Option configures a watcher at construction.
type Option interface {
	applyPublishable(*Publishable)
	applyExpirable(*Expirable)
}

type clockOption struct{ clock func() time.Time }

func (o clockOption) applyPublishable(w *Publishable) { w.clock = o.clock }
func (o clockOption) applyExpirable(w *Expirable)     { w.clock = o.clock }

// WithClock overrides the time source used for past-due checks.
func WithClock(clock func() time.Time) Option { return clockOption{clock} }

type bumpOption struct{ d time.Duration }

func (o bumpOption) applyPublishable(w *Publishable) { w.bump = o.d }
func (o bumpOption) applyExpirable(w *Expirable)     { w.bump = o.d }

// WithScheduleBump overrides the past-due forward margin.
func WithScheduleBump(d time.Duration) Option { return bumpOption{d} }
