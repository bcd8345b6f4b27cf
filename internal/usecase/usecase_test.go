package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	"nodelife.io/nodelife/internal/ncr"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/pkg/worker"
	"nodelife.io/nodelife/internal/projector"
	"nodelife.io/nodelife/internal/scheduler"
	"nodelife.io/nodelife/internal/search"
	"nodelife.io/nodelife/internal/watcher"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

type busFixture struct {
	registry *Registry
	events   *eventstore.MemoryStore
	nodes    *ncr.MemoryStore
	index    *search.MemoryIndex
	sched    *scheduler.MemoryScheduler
	bus      *CommandBus
	now      time.Time
}

func newBusFixture(t *testing.T) *busFixture {
	t.Helper()

	registry, err := NewRegistry(Definition{
		Label: "article",
		Traits: domain.Traits{
			Workflow:    true,
			Publishable: true,
			Expirable:   true,
			Sluggable:   true,
		},
	})
	require.NoError(t, err)

	f := &busFixture{
		registry: registry,
		events:   eventstore.NewMemoryStore(),
		nodes:    ncr.NewMemoryStore(),
		index:    search.NewMemoryIndex(),
		sched:    scheduler.NewMemoryScheduler(),
		now:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	clock := func() time.Time {
		f.now = f.now.Add(time.Millisecond)
		return f.now
	}
	proj := projector.New(f.nodes, f.index,
		watcher.NewPublishable(f.sched, registry.Traits, watcher.WithClock(clock)),
		watcher.NewExpirable(f.sched, registry.Traits, watcher.WithClock(clock)),
	)
	dispatcher := domain.NewEventDispatcher()
	dispatcher.RegisterAll(proj.HandleEvent)
	f.bus = NewCommandBus(registry, f.events, f.nodes, dispatcher, WithClock(clock))
	return f
}

func articleRef(id string) domain.NodeRef {
	return domain.NewNodeRef("acme", "article", id)
}

func (f *busFixture) create(t *testing.T, id, slug string) {
	t.Helper()
	require.NoError(t, f.bus.Execute(context.Background(), &domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: articleRef(id), CtxUserRef: "user:alice"},
		Node:        domain.Node{Slug: slug, Fields: map[string]any{"title": slug}},
	}))
}

func TestExecuteCreateThenPublish(t *testing.T) {
	ctx := context.Background()
	f := newBusFixture(t)
	ref := articleRef("a1")

	f.create(t, "a1", "hello")

	node, err := f.nodes.Get(ctx, ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, node.Status)
	require.Equal(t, "user:alice", node.CreatorRef)
	require.False(t, f.index.Contains(ref))

	require.NoError(t, f.bus.Execute(ctx, &domain.PublishNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:bob"},
	}))

	node, err = f.nodes.Get(ctx, ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, node.Status)
	require.NotNil(t, node.PublishedAt)
	require.True(t, f.index.Contains(ref))
}

func TestExecuteScheduledPublishFiresThroughScheduler(t *testing.T) {
	ctx := context.Background()
	f := newBusFixture(t)
	ref := articleRef("a1")
	f.create(t, "a1", "hello")

	publishAt := f.now.Add(time.Hour)
	require.NoError(t, f.bus.Execute(ctx, &domain.PublishNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
		PublishAt:   &publishAt,
	}))

	node, err := f.nodes.Get(ctx, ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusScheduled, node.Status)

	job, ok := f.sched.Pending(ref.PublishJobID())
	require.True(t, ok)

	// The scheduler fires: the clock has passed publish_at and the stored
	// command is redelivered through the same bus.
	f.now = publishAt.Add(time.Second)
	require.NoError(t, f.bus.Execute(ctx, job.Command))

	node, err = f.nodes.Get(ctx, ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, node.Status)
	require.True(t, f.index.Contains(ref))
}

func TestExecuteUnknownLabelFails(t *testing.T) {
	f := newBusFixture(t)

	err := f.bus.Execute(context.Background(), &domain.CreateNode{
		CommandBase: domain.CommandBase{
			Ref:        domain.NewNodeRef("acme", "widget", "w1"),
			CtxUserRef: "user:alice",
		},
	})
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeUnknownLabel, appErr.Code)
}

func TestExecuteRedeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newBusFixture(t)
	ref := articleRef("a1")
	f.create(t, "a1", "hello")

	cmd := &domain.MarkNodeAsPending{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
	}
	require.NoError(t, f.bus.Execute(ctx, cmd))
	streamLen := f.events.StreamLen(ref.StreamID())

	require.NoError(t, f.bus.Execute(ctx, cmd))
	require.Equal(t, streamLen, f.events.StreamLen(ref.StreamID()))
}

func TestExecuteSlugCollisionSurfaces(t *testing.T) {
	f := newBusFixture(t)
	f.create(t, "a1", "hello")

	err := f.bus.Execute(context.Background(), &domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: articleRef("a2"), CtxUserRef: "user:alice"},
		Node:        domain.Node{Slug: "hello"},
	})
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeNodeAlreadyExists, appErr.Code)
}

func TestReplayRebuildsReadModelWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newBusFixture(t)

	refs := []domain.NodeRef{articleRef("a1"), articleRef("a2"), articleRef("a3")}
	f.create(t, "a1", "one")
	f.create(t, "a2", "two")
	f.create(t, "a3", "three")
	require.NoError(t, f.bus.Execute(ctx, &domain.PublishNode{
		CommandBase: domain.CommandBase{Ref: refs[0], CtxUserRef: "user:alice"},
	}))

	want := make([]domain.Node, len(refs))
	for i, ref := range refs {
		node, err := f.nodes.Get(ctx, ref, true)
		require.NoError(t, err)
		want[i] = node
	}

	// Rebuild into a fresh read-model from event history alone.
	rebuilt := ncr.NewMemoryStore()
	index := search.NewMemoryIndex()
	sched := scheduler.NewMemoryScheduler()
	proj := projector.New(rebuilt, index,
		watcher.NewPublishable(sched, f.registry.Traits),
		watcher.NewExpirable(sched, f.registry.Traits),
	)

	pools, err := worker.NewPools(ctx, worker.PoolConfig{GeneralPoolSize: 4, ReplayPoolSize: 2})
	require.NoError(t, err)
	defer pools.Shutdown()

	dispatcher := domain.NewEventDispatcher()
	dispatcher.RegisterAll(proj.HandleEvent)
	replayer := NewReplayer(f.events, rebuilt, dispatcher, pools)
	require.NoError(t, replayer.ReplayNodes(ctx, refs))

	for i, ref := range refs {
		node, err := rebuilt.Get(ctx, ref, true)
		require.NoError(t, err)
		require.Equal(t, want[i], node)
	}

	// State rebuilt, side effects suppressed.
	require.False(t, index.Contains(refs[0]))
	require.Zero(t, sched.PendingCount())
	require.Empty(t, sched.Cancelled())
}
