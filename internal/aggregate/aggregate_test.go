package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

var workflowTraits = domain.Traits{
	Workflow:    true,
	Publishable: true,
	Expirable:   true,
	Sluggable:   true,
}

// tickingClock returns a deterministic time source advancing one second
// per call.
func tickingClock() func() time.Time {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	calls := 0
	return func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
}

func testRef() domain.NodeRef {
	return domain.NewNodeRef("acme", "article", "a1")
}

func newDraftAggregate(t *testing.T, store eventstore.Store) *Aggregate {
	t.Helper()
	ref := testRef()
	agg := FromNodeRef(store, ref, workflowTraits, WithClock(tickingClock()))
	require.NoError(t, agg.CreateNode(&domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
		Node:        domain.Node{Slug: "hello", Fields: map[string]any{"title": "Hello"}},
	}))
	return agg
}

func TestCreateNode(t *testing.T) {
	ref := testRef()
	agg := FromNodeRef(eventstore.NewMemoryStore(), ref, workflowTraits, WithClock(tickingClock()))

	cmd := &domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
		Node:        domain.Node{Slug: "a"},
	}
	require.NoError(t, agg.CreateNode(cmd))

	events := agg.UncommittedEvents()
	require.Len(t, events, 1)
	require.Equal(t, domain.EventNodeCreated, events[0].Type)

	node := agg.Node()
	require.Equal(t, domain.StatusDraft, node.Status)
	require.Equal(t, ref, node.Ref)
	require.False(t, node.CreatedAt.IsZero())
	require.Equal(t, "user:alice", node.CreatorRef)
	require.Equal(t, events[0].Ref(), node.LastEventRef)
	require.NotEmpty(t, node.Etag)

	// Re-delivery of the same intent is a no-op.
	require.NoError(t, agg.CreateNode(cmd))
	require.Len(t, agg.UncommittedEvents(), 1)
}

func TestCreateNodeWithoutWorkflowPublishesDirectly(t *testing.T) {
	ref := testRef()
	agg := FromNodeRef(eventstore.NewMemoryStore(), ref, domain.Traits{}, WithClock(tickingClock()))

	require.NoError(t, agg.CreateNode(&domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
	}))
	require.Equal(t, domain.StatusPublished, agg.Node().Status)
}

func TestIdentityMismatchHardFails(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	before := agg.Node()

	err := agg.DeleteNode(&domain.DeleteNode{
		CommandBase: domain.CommandBase{
			Ref:        domain.NewNodeRef("acme", "article", "other"),
			CtxUserRef: "user:alice",
		},
	})
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeIdentityMismatch, appErr.Code)

	require.Equal(t, before, agg.Node())
	require.Len(t, agg.UncommittedEvents(), 1)
}

func TestMarkAsPendingIsIdempotent(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	cmd := &domain.MarkNodeAsPending{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
	}

	require.NoError(t, agg.MarkNodeAsPending(cmd))
	require.NoError(t, agg.MarkNodeAsPending(cmd))

	var pending int
	for _, evt := range agg.UncommittedEvents() {
		if evt.Type == domain.EventNodeMarkedAsPending {
			pending++
		}
	}
	require.Equal(t, 1, pending)
	require.Equal(t, domain.StatusPending, agg.Node().Status)
}

func TestPublishNowVersusSchedule(t *testing.T) {
	t.Run("past target publishes immediately", func(t *testing.T) {
		agg := newDraftAggregate(t, eventstore.NewMemoryStore())
		at := agg.clock().Add(-time.Second)
		require.NoError(t, agg.PublishNode(&domain.PublishNode{
			CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
			PublishAt:   &at,
		}))

		events := agg.UncommittedEvents()
		last := events[len(events)-1]
		require.Equal(t, domain.EventNodePublished, last.Type)
		payload := last.Payload.(*domain.NodePublishedPayload)
		require.Equal(t, at.UTC(), payload.PublishedAt)

		node := agg.Node()
		require.Equal(t, domain.StatusPublished, node.Status)
		require.NotNil(t, node.PublishedAt)
	})

	t.Run("target inside anticipation window publishes immediately", func(t *testing.T) {
		agg := newDraftAggregate(t, eventstore.NewMemoryStore())
		at := agg.clock().Add(10 * time.Second)
		require.NoError(t, agg.PublishNode(&domain.PublishNode{
			CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
			PublishAt:   &at,
		}))

		events := agg.UncommittedEvents()
		require.Equal(t, domain.EventNodePublished, events[len(events)-1].Type)
	})

	t.Run("future target schedules", func(t *testing.T) {
		agg := newDraftAggregate(t, eventstore.NewMemoryStore())
		at := agg.clock().Add(time.Hour)
		require.NoError(t, agg.PublishNode(&domain.PublishNode{
			CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
			PublishAt:   &at,
		}))

		events := agg.UncommittedEvents()
		last := events[len(events)-1]
		require.Equal(t, domain.EventNodeScheduled, last.Type)
		payload := last.Payload.(*domain.NodeScheduledPayload)
		require.Equal(t, at.UTC(), payload.PublishAt)
		require.Equal(t, domain.StatusScheduled, agg.Node().Status)
	})
}

func TestLockSemantics(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	lockAlice := &domain.LockNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
	}

	require.NoError(t, agg.LockNode(lockAlice))
	node := agg.Node()
	require.True(t, node.IsLocked)
	require.Equal(t, "user:alice", node.LockedByRef)
	count := len(agg.UncommittedEvents())

	// Same actor re-locking is a no-op.
	require.NoError(t, agg.LockNode(lockAlice))
	require.Len(t, agg.UncommittedEvents(), count)

	// A different actor conflicts.
	err := agg.LockNode(&domain.LockNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:bob"},
	})
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeNodeAlreadyLocked, appErr.Code)
	require.Equal(t, "user:alice", appErr.Params["locked_by_ref"])

	require.NoError(t, agg.UnlockNode(&domain.UnlockNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
	}))
	require.False(t, agg.Node().IsLocked)
	require.Empty(t, agg.Node().LockedByRef)
}

func TestUpdateNodeCannotSmuggleImmutableFields(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	before := agg.Node()

	smuggled := before.Clone()
	smuggled.Status = domain.StatusPublished
	smuggled.Slug = "other"
	smuggled.IsLocked = true
	smuggled.Fields = map[string]any{"title": "Changed"}

	require.NoError(t, agg.UpdateNode(&domain.UpdateNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:bob"},
		Node:        smuggled,
	}))

	node := agg.Node()
	require.Equal(t, before.Status, node.Status)
	require.Equal(t, before.Slug, node.Slug)
	require.False(t, node.IsLocked)
	require.Equal(t, "Changed", node.Fields["title"])
	require.Equal(t, "user:bob", node.UpdaterRef)
	require.NotEqual(t, before.Etag, node.Etag)

	events := agg.UncommittedEvents()
	payload := events[len(events)-1].Payload.(*domain.NodeUpdatedPayload)
	require.Equal(t, before.Etag, payload.OldEtag)
}

func TestRenameCarriesOldSlugAndStatus(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	count := len(agg.UncommittedEvents())

	// Unchanged slug is a no-op.
	require.NoError(t, agg.RenameNode(&domain.RenameNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
		Slug:        "hello",
	}))
	require.Len(t, agg.UncommittedEvents(), count)

	require.NoError(t, agg.RenameNode(&domain.RenameNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
		Slug:        "hello-again",
	}))

	events := agg.UncommittedEvents()
	payload := events[len(events)-1].Payload.(*domain.NodeRenamedPayload)
	require.Equal(t, "hello-again", payload.Slug)
	require.Equal(t, "hello", payload.OldSlug)
	require.Equal(t, domain.StatusDraft, payload.OldStatus)
	require.Equal(t, "hello-again", agg.Node().Slug)
}

func TestDeleteCarriesSlugAndIsIdempotent(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	cmd := &domain.DeleteNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
	}

	require.NoError(t, agg.DeleteNode(cmd))
	events := agg.UncommittedEvents()
	payload := events[len(events)-1].Payload.(*domain.NodeDeletedPayload)
	require.Equal(t, "hello", payload.Slug)
	require.False(t, payload.Hard)
	require.Equal(t, domain.StatusDeleted, agg.Node().Status)

	require.NoError(t, agg.DeleteNode(cmd))
	require.Len(t, agg.UncommittedEvents(), len(events))
}

func TestUpdateLabelsSkipsNoOpDelta(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())

	require.NoError(t, agg.UpdateNodeLabels(&domain.UpdateNodeLabels{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
		Add:         []string{"go", "cms"},
	}))
	require.Equal(t, []string{"cms", "go"}, agg.Node().Labels)
	count := len(agg.UncommittedEvents())

	// Adding already-present labels changes nothing.
	require.NoError(t, agg.UpdateNodeLabels(&domain.UpdateNodeLabels{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
		Add:         []string{"go"},
	}))
	require.Len(t, agg.UncommittedEvents(), count)

	require.NoError(t, agg.UpdateNodeLabels(&domain.UpdateNodeLabels{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
		Remove:      []string{"cms"},
	}))
	require.Equal(t, []string{"go"}, agg.Node().Labels)
}

func TestCommitAppendsAndClearsBuffer(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	agg := newDraftAggregate(t, store)

	require.NoError(t, agg.Commit(ctx))
	require.False(t, agg.HasUncommittedEvents())
	require.Equal(t, 1, store.StreamLen(testRef().StreamID()))

	// Empty-buffer commit is a no-op.
	require.NoError(t, agg.Commit(ctx))
	require.Equal(t, 1, store.StreamLen(testRef().StreamID()))
}

func TestSyncFailsOnDirtyBuffer(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())

	err := agg.Sync(context.Background())
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeDirtySync, appErr.Code)
}

func TestReplayDeterminism(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	ref := testRef()

	// Drive a lifecycle with a commit after every command.
	live := FromNodeRef(store, ref, workflowTraits, WithClock(tickingClock()))
	require.NoError(t, live.CreateNode(&domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
		Node:        domain.Node{Slug: "story", Fields: map[string]any{"title": "Story"}},
	}))
	require.NoError(t, live.Commit(ctx))
	require.NoError(t, live.MarkNodeAsPending(&domain.MarkNodeAsPending{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
	}))
	require.NoError(t, live.Commit(ctx))
	require.NoError(t, live.PublishNode(&domain.PublishNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:bob"},
	}))
	require.NoError(t, live.Commit(ctx))
	require.NoError(t, live.RenameNode(&domain.RenameNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:bob"},
		Slug:        "story-2",
	}))
	require.NoError(t, live.Commit(ctx))

	// A fresh aggregate replaying the whole stream lands on the same
	// snapshot.
	replayed := FromNodeRef(store, ref, workflowTraits)
	require.NoError(t, replayed.Sync(ctx))
	require.Equal(t, live.Node(), replayed.Node())
}

func TestSyncCatchesUpStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	ref := testRef()
	clock := tickingClock()

	writer := FromNodeRef(store, ref, workflowTraits, WithClock(clock))
	require.NoError(t, writer.CreateNode(&domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
		Node:        domain.Node{Slug: "stale"},
	}))
	require.NoError(t, writer.Commit(ctx))
	stale := writer.Node()

	require.NoError(t, writer.MarkNodeAsPending(&domain.MarkNodeAsPending{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
	}))
	require.NoError(t, writer.Commit(ctx))

	reader := FromNode(store, stale, workflowTraits, WithClock(clock))
	require.NoError(t, reader.Sync(ctx))
	require.Equal(t, writer.Node(), reader.Node())
}

func TestUnpublishReturnsToDraft(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	require.NoError(t, agg.PublishNode(&domain.PublishNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
	}))
	require.Equal(t, domain.StatusPublished, agg.Node().Status)

	require.NoError(t, agg.UnpublishNode(&domain.UnpublishNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
	}))
	node := agg.Node()
	require.Equal(t, domain.StatusDraft, node.Status)
	require.Nil(t, node.PublishedAt)

	// Draft with no published_at: nothing left to unpublish.
	count := len(agg.UncommittedEvents())
	require.NoError(t, agg.UnpublishNode(&domain.UnpublishNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "user:alice"},
	}))
	require.Len(t, agg.UncommittedEvents(), count)
}

func TestExpireIsIdempotent(t *testing.T) {
	agg := newDraftAggregate(t, eventstore.NewMemoryStore())
	cmd := &domain.ExpireNode{
		CommandBase: domain.CommandBase{Ref: testRef(), CtxUserRef: "system:scheduler"},
	}

	require.NoError(t, agg.ExpireNode(cmd))
	require.Equal(t, domain.StatusExpired, agg.Node().Status)
	count := len(agg.UncommittedEvents())

	require.NoError(t, agg.ExpireNode(cmd))
	require.Len(t, agg.UncommittedEvents(), count)
}

func TestEnrichersRunBeforeFreeze(t *testing.T) {
	ref := testRef()
	var enrichedTypes []domain.EventType
	agg := FromNodeRef(eventstore.NewMemoryStore(), ref, workflowTraits,
		WithClock(tickingClock()),
		WithEnricher(func(_ *domain.Node, evt *domain.Event) {
			require.False(t, evt.Frozen())
			enrichedTypes = append(enrichedTypes, evt.Type)
		}),
	)

	require.NoError(t, agg.CreateNode(&domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: "user:alice"},
	}))
	require.Equal(t, []domain.EventType{domain.EventNodeCreated}, enrichedTypes)
	require.True(t, agg.UncommittedEvents()[0].Frozen())
}
