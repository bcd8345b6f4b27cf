package ncr

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"nodelife.io/nodelife/internal/domain"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

func snapshot(id, slug string) domain.Node {
	n := domain.Node{
		Ref:    domain.NewNodeRef("acme", "article", id),
		Status: domain.StatusDraft,
		Slug:   slug,
	}
	n.RefreshEtag()
	return n
}

func TestGetReturnsCloneOrNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, domain.NewNodeRef("acme", "article", "missing"), true)
	require.True(t, apperrors.IsNodeNotFound(err))

	n := snapshot("a1", "hello")
	n.Labels = []string{"go"}
	require.NoError(t, store.Put(ctx, n, nil))

	got, err := store.Get(ctx, n.Ref, false)
	require.NoError(t, err)
	got.Labels[0] = "mutated"

	again, err := store.Get(ctx, n.Ref, true)
	require.NoError(t, err)
	require.Equal(t, "go", again.Labels[0])
}

func TestPutConditionalOnEtag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n := snapshot("a1", "hello")
	require.NoError(t, store.Put(ctx, n, nil))

	// A stale base etag must be rejected, not retried.
	updated := n.Clone()
	updated.Fields = map[string]any{"title": "v2"}
	updated.RefreshEtag()
	require.NoError(t, store.Put(ctx, updated, &n.Etag))

	stale := n.Clone()
	stale.Fields = map[string]any{"title": "lost race"}
	stale.RefreshEtag()
	err := store.Put(ctx, stale, &n.Etag)
	require.True(t, apperrors.IsOptimisticCheckFailed(err))

	got, err := store.Get(ctx, n.Ref, true)
	require.NoError(t, err)
	require.Equal(t, "v2", got.Fields["title"])
}

func TestPutConditionalAgainstMissingRowFails(t *testing.T) {
	store := NewMemoryStore()
	n := snapshot("a1", "hello")
	err := store.Put(context.Background(), n, &n.Etag)
	require.True(t, apperrors.IsOptimisticCheckFailed(err))
}

func TestSlugUniquenessPerFamily(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, snapshot("a1", "hello"), nil))

	err := store.Put(ctx, snapshot("a2", "hello"), nil)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeNodeAlreadyExists, appErr.Code)

	// Same slug in another family is fine.
	other := snapshot("a2", "hello")
	other.Ref = domain.NewNodeRef("acme", "page", "p1")
	other.RefreshEtag()
	require.NoError(t, store.Put(ctx, other, nil))

	// Re-putting the holder itself is fine too.
	require.NoError(t, store.Put(ctx, snapshot("a1", "hello"), nil))
}

func TestPutMovesSlugOnRename(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, snapshot("a1", "old"), nil))
	require.NoError(t, store.Put(ctx, snapshot("a1", "new"), nil))

	// The old slug is free for someone else now.
	require.NoError(t, store.Put(ctx, snapshot("a2", "old"), nil))
}

func TestReleaseSlugOnlyFreesOwnEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, snapshot("a1", "hello"), nil))

	// A stranger releasing someone else's slug is a no-op.
	require.NoError(t, store.ReleaseSlug(ctx, domain.NewNodeRef("acme", "article", "a2"), "hello"))
	refs, _, err := store.FindRefs(ctx, IndexQuery{Vendor: "acme", Label: "article", Slug: "hello"})
	require.NoError(t, err)
	require.Len(t, refs, 1)

	require.NoError(t, store.ReleaseSlug(ctx, domain.NewNodeRef("acme", "article", "a1"), "hello"))
	refs, _, err = store.FindRefs(ctx, IndexQuery{Vendor: "acme", Label: "article", Slug: "hello"})
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestDeleteDropsRowAndSlug(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ref := domain.NewNodeRef("acme", "article", "a1")

	require.NoError(t, store.Put(ctx, snapshot("a1", "hello"), nil))
	require.NoError(t, store.Delete(ctx, ref))

	_, err := store.Get(ctx, ref, true)
	require.True(t, apperrors.IsNodeNotFound(err))
	require.NoError(t, store.Put(ctx, snapshot("a2", "hello"), nil))
}

func TestFindRefsFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		n := snapshot(fmt.Sprintf("a%d", i), "")
		if i%2 == 0 {
			n.Status = domain.StatusPublished
		}
		n.RefreshEtag()
		require.NoError(t, store.Put(ctx, n, nil))
	}

	refs, next, err := store.FindRefs(ctx, IndexQuery{
		Vendor: "acme", Label: "article",
		Status: domain.StatusPublished,
	})
	require.NoError(t, err)
	require.Empty(t, next)
	require.Len(t, refs, 3)

	// Page through everything two at a time.
	var all []domain.NodeRef
	cursor := ""
	for {
		page, n, err := store.FindRefs(ctx, IndexQuery{
			Vendor: "acme", Label: "article",
			Cursor: cursor, Limit: 2,
		})
		require.NoError(t, err)
		all = append(all, page...)
		if n == "" {
			break
		}
		cursor = n
	}
	require.Len(t, all, 5)
}
