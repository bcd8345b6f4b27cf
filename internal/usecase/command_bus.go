package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/aggregate"
	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	"nodelife.io/nodelife/internal/ncr"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
	"nodelife.io/nodelife/internal/pkg/logger"
)

// CommandBus executes commands end to end: one command is handled
// synchronously by one worker, so conflicts surface to the caller instead
// of being half-applied in the background.
type CommandBus struct {
	registry   *Registry
	events     eventstore.Store
	nodes      ncr.Store
	dispatcher *domain.EventDispatcher

	anticipation time.Duration
	clock        func() time.Time
}

// BusOption configures a CommandBus.
type BusOption func(*CommandBus)

// WithAnticipationThreshold sets the publish timing grace window handed
// to every aggregate.
func WithAnticipationThreshold(d time.Duration) BusOption {
	return func(b *CommandBus) {
		if d > 0 {
			b.anticipation = d
		}
	}
}

// WithClock overrides the time source handed to every aggregate.
func WithClock(clock func() time.Time) BusOption {
	return func(b *CommandBus) { b.clock = clock }
}

// NewCommandBus creates the bus.
func NewCommandBus(
	registry *Registry,
	events eventstore.Store,
	nodes ncr.Store,
	dispatcher *domain.EventDispatcher,
	opts ...BusOption,
) *CommandBus {
	b := &CommandBus{
		registry:     registry,
		events:       events,
		nodes:        nodes,
		dispatcher:   dispatcher,
		anticipation: aggregate.DefaultAnticipationThreshold,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs one command: load the read-model snapshot (or start from
// the bare ref), sync against the authoritative stream, invoke the
// command-method, commit, and dispatch the committed events to the live
// listeners.
func (b *CommandBus) Execute(ctx context.Context, cmd domain.Command) error {
	agg, err := b.load(ctx, cmd.NodeRef())
	if err != nil {
		return err
	}
	if err := agg.Sync(ctx); err != nil {
		return err
	}

	if err := dispatchCommand(agg, cmd); err != nil {
		return err
	}
	if !agg.HasUncommittedEvents() {
		logger.Debug("command was a no-op",
			zap.String("command_type", string(cmd.CommandType())),
			zap.String("node_ref", cmd.NodeRef().String()),
		)
		return nil
	}

	events := agg.UncommittedEvents()
	if err := agg.Commit(ctx); err != nil {
		return err
	}

	for i := range events {
		if err := b.dispatcher.Dispatch(ctx, &events[i]); err != nil {
			return err
		}
	}

	logger.Info("command executed",
		zap.String("command_type", string(cmd.CommandType())),
		zap.String("node_ref", cmd.NodeRef().String()),
		zap.Int("events", len(events)),
	)
	return nil
}

// load builds the aggregate for a ref: from the cached read-model snapshot
// when one exists, from the bare ref otherwise.
func (b *CommandBus) load(ctx context.Context, ref domain.NodeRef) (*aggregate.Aggregate, error) {
	def, ok := b.registry.Lookup(ref.Label)
	if !ok {
		return nil, apperrors.BadRequest(apperrors.CodeUnknownLabel,
			"no definition registered for node label").
			WithParams(map[string]interface{}{"node_ref": ref.String(), "label": ref.Label})
	}

	opts := []aggregate.Option{
		aggregate.WithClock(b.clock),
		aggregate.WithAnticipationThreshold(b.anticipation),
	}
	for _, e := range def.Enrichers {
		opts = append(opts, aggregate.WithEnricher(e))
	}

	node, err := b.nodes.Get(ctx, ref, false)
	switch {
	case err == nil:
		return aggregate.FromNode(b.events, node, def.Traits, opts...), nil
	case apperrors.IsNodeNotFound(err):
		return aggregate.FromNodeRef(b.events, ref, def.Traits, opts...), nil
	default:
		return nil, err
	}
}

// dispatchCommand routes to the matching command-method. The closed switch
// replaces the original's reflection-by-naming lookup.
func dispatchCommand(agg *aggregate.Aggregate, cmd domain.Command) error {
	switch c := cmd.(type) {
	case *domain.CreateNode:
		return agg.CreateNode(c)
	case *domain.UpdateNode:
		return agg.UpdateNode(c)
	case *domain.DeleteNode:
		return agg.DeleteNode(c)
	case *domain.MarkNodeAsDraft:
		return agg.MarkNodeAsDraft(c)
	case *domain.MarkNodeAsPending:
		return agg.MarkNodeAsPending(c)
	case *domain.PublishNode:
		return agg.PublishNode(c)
	case *domain.UnpublishNode:
		return agg.UnpublishNode(c)
	case *domain.LockNode:
		return agg.LockNode(c)
	case *domain.UnlockNode:
		return agg.UnlockNode(c)
	case *domain.ExpireNode:
		return agg.ExpireNode(c)
	case *domain.RenameNode:
		return agg.RenameNode(c)
	case *domain.UpdateNodeLabels:
		return agg.UpdateNodeLabels(c)
	default:
		return apperrors.Internal(apperrors.CodeUnsupportedCommand,
			"no command-method for command type").
			WithParams(map[string]interface{}{"command_type": string(cmd.CommandType())})
	}
}
