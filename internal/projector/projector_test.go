package projector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodelife.io/nodelife/internal/aggregate"
	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	"nodelife.io/nodelife/internal/ncr"
	"nodelife.io/nodelife/internal/pkg/errors"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/scheduler"
	"nodelife.io/nodelife/internal/search"
	"nodelife.io/nodelife/internal/watcher"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

var articleTraits = domain.Traits{Workflow: true, Publishable: true, Expirable: true, Sluggable: true}

func lookupArticle(string) domain.Traits { return articleTraits }

// countingIndex wraps the in-memory index and counts write calls.
type countingIndex struct {
	*search.MemoryIndex
	indexCalls  int
	deleteCalls int
}

func (c *countingIndex) IndexBatch(ctx context.Context, nodes []domain.Node) error {
	c.indexCalls++
	return c.MemoryIndex.IndexBatch(ctx, nodes)
}

func (c *countingIndex) DeleteBatch(ctx context.Context, refs []domain.NodeRef) error {
	c.deleteCalls++
	return c.MemoryIndex.DeleteBatch(ctx, refs)
}

type fixture struct {
	store ncr.Store
	index *countingIndex
	sched *scheduler.MemoryScheduler
	proj  *Projector
	ref   domain.NodeRef
	log   *eventstore.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: ncr.NewMemoryStore(),
		index: &countingIndex{MemoryIndex: search.NewMemoryIndex()},
		sched: scheduler.NewMemoryScheduler(),
		ref:   domain.NewNodeRef("acme", "article", "a1"),
		log:   eventstore.NewMemoryStore(),
	}
	f.proj = New(f.store, f.index,
		watcher.NewPublishable(f.sched, lookupArticle),
		watcher.NewExpirable(f.sched, lookupArticle),
	)
	return f
}

// drive runs commands through an aggregate and projects the committed
// events, mirroring the live command path.
func (f *fixture) drive(t *testing.T, run func(agg *aggregate.Aggregate)) {
	t.Helper()
	ctx := context.Background()

	var agg *aggregate.Aggregate
	if node, err := f.store.Get(ctx, f.ref, true); err == nil {
		agg = aggregate.FromNode(f.log, node, articleTraits)
	} else {
		agg = aggregate.FromNodeRef(f.log, f.ref, articleTraits)
	}
	require.NoError(t, agg.Sync(ctx))

	run(agg)

	events := agg.UncommittedEvents()
	require.NoError(t, agg.Commit(ctx))
	for i := range events {
		require.NoError(t, f.proj.HandleEvent(ctx, &events[i]))
	}
}

func (f *fixture) create(t *testing.T) {
	t.Helper()
	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.CreateNode(&domain.CreateNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
			Node:        domain.Node{Slug: "hello", Fields: map[string]any{"title": "Hello"}},
		}))
	})
}

func TestProjectCreateWritesReadModel(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	node, err := f.store.Get(context.Background(), f.ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, node.Status)
	require.Equal(t, "hello", node.Slug)
	require.NotEmpty(t, node.Etag)

	// A draft is not visible in search.
	require.False(t, f.index.Contains(f.ref))
}

func TestProjectPublishIndexesNode(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.PublishNode(&domain.PublishNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
		}))
	})

	node, err := f.store.Get(context.Background(), f.ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, node.Status)
	require.True(t, f.index.Contains(f.ref))

	// Unpublishing takes it back out.
	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.UnpublishNode(&domain.UnpublishNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
		}))
	})
	require.False(t, f.index.Contains(f.ref))
}

func TestReplaySuppressesSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	agg := aggregate.FromNodeRef(f.log, f.ref, articleTraits)
	require.NoError(t, agg.CreateNode(&domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
		Node:        domain.Node{Slug: "hello"},
	}))
	publishAt := time.Now().Add(2 * time.Hour)
	require.NoError(t, agg.PublishNode(&domain.PublishNode{
		CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
		PublishAt:   &publishAt,
	}))

	events := agg.UncommittedEvents()
	require.NoError(t, agg.Commit(ctx))
	for i := range events {
		events[i].Replay = true
		require.NoError(t, f.proj.HandleEvent(ctx, &events[i]))
	}

	// Read-model state is correct.
	node, err := f.store.Get(ctx, f.ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusScheduled, node.Status)

	// Search index and scheduler never heard about any of it.
	require.Zero(t, f.index.indexCalls)
	require.Zero(t, f.index.deleteCalls)
	require.Zero(t, f.sched.PendingCount())
	require.Empty(t, f.sched.Cancelled())
}

func TestLiveScheduledEventReachesScheduler(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	publishAt := time.Now().Add(2 * time.Hour).UTC()
	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.PublishNode(&domain.PublishNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
			PublishAt:   &publishAt,
		}))
	})

	job, ok := f.sched.Pending(f.ref.PublishJobID())
	require.True(t, ok)
	require.Equal(t, publishAt, job.At)
}

func TestOptimisticConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t)

	snapshot, err := f.store.Get(ctx, f.ref, true)
	require.NoError(t, err)

	// Two writers load the same snapshot and race the same update.
	update := func(agg *aggregate.Aggregate, title string) []domain.Event {
		next := agg.Node()
		next.Fields = map[string]any{"title": title}
		require.NoError(t, agg.UpdateNode(&domain.UpdateNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
			Node:        next,
		}))
		events := agg.UncommittedEvents()
		require.NoError(t, agg.Commit(ctx))
		return events
	}

	first := update(aggregate.FromNode(f.log, snapshot, articleTraits), "First")
	second := update(aggregate.FromNode(f.log, snapshot, articleTraits), "Second")

	require.NoError(t, f.proj.HandleEvent(ctx, &first[0]))

	err = f.proj.HandleEvent(ctx, &second[0])
	require.Error(t, err)
	require.True(t, errors.IsOptimisticCheckFailed(err))

	// The first write survives.
	node, err := f.store.Get(ctx, f.ref, true)
	require.NoError(t, err)
	require.Equal(t, "First", node.Fields["title"])
}

func TestLabelsUnionAgainstCurrentState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t)

	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.UpdateNodeLabels(&domain.UpdateNodeLabels{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
			Add:         []string{"go"},
		}))
	})
	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.UpdateNodeLabels(&domain.UpdateNodeLabels{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:bob"},
			Add:         []string{"cms"},
		}))
	})

	node, err := f.store.Get(ctx, f.ref, true)
	require.NoError(t, err)
	require.Equal(t, []string{"cms", "go"}, node.Labels)
}

func TestHardDeleteRemovesRowAndIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t)
	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.PublishNode(&domain.PublishNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
		}))
	})
	require.True(t, f.index.Contains(f.ref))

	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.DeleteNode(&domain.DeleteNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
			Hard:        true,
		}))
	})

	_, err := f.store.Get(ctx, f.ref, true)
	require.True(t, errors.IsNodeNotFound(err))
	require.False(t, f.index.Contains(f.ref))

	// The publish slot was cancelled too.
	require.Contains(t, f.sched.Cancelled(), f.ref.PublishJobID())
}

func TestSoftDeleteKeepsRowAndFreesSlug(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t)

	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.DeleteNode(&domain.DeleteNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
		}))
	})

	node, err := f.store.Get(ctx, f.ref, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDeleted, node.Status)

	// The slug index no longer resolves to the deleted node.
	refs, _, err := f.store.FindRefs(ctx, ncr.IndexQuery{
		Vendor: "acme", Label: "article", Slug: "hello",
	})
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestRenameReleasesOldSlug(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t)

	f.drive(t, func(agg *aggregate.Aggregate) {
		require.NoError(t, agg.RenameNode(&domain.RenameNode{
			CommandBase: domain.CommandBase{Ref: f.ref, CtxUserRef: "user:alice"},
			Slug:        "hello-again",
		}))
	})

	node, err := f.store.Get(ctx, f.ref, true)
	require.NoError(t, err)
	require.Equal(t, "hello-again", node.Slug)

	refs, _, err := f.store.FindRefs(ctx, ncr.IndexQuery{
		Vendor: "acme", Label: "article", Slug: "hello",
	})
	require.NoError(t, err)
	require.Empty(t, refs)

	refs, _, err = f.store.FindRefs(ctx, ncr.IndexQuery{
		Vendor: "acme", Label: "article", Slug: "hello-again",
	})
	require.NoError(t, err)
	require.Equal(t, []domain.NodeRef{f.ref}, refs)
}
