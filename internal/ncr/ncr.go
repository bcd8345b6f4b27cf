// Package ncr is the node read-model store: a key-value store of the
// latest materialized node snapshot per NodeRef, with optimistic
// concurrency on the node etag and a uniqueness-indexed slug lookup.
//
// The event stream is always authoritative; this store is a cache the
// projector reconciles against the log.
package ncr

import (
	"context"

	"nodelife.io/nodelife/internal/domain"
)

// IndexQuery selects refs from the store's secondary indexes.
type IndexQuery struct {
	Vendor string
	Label  string

	// Slug, when set, resolves through the slug uniqueness index and
	// returns at most one ref.
	Slug string

	// Status, when set, restricts to nodes currently in that status.
	Status domain.Status

	Cursor string
	Limit  int
}

// Store is the read-model store interface.
type Store interface {
	// Get returns the latest snapshot, or a NODE_NOT_FOUND error.
	// consistent requests a strongly consistent read where the backend
	// distinguishes one.
	Get(ctx context.Context, ref domain.NodeRef, consistent bool) (domain.Node, error)

	// Put writes a snapshot. A non-nil expectedEtag conditions the write
	// on the stored etag still matching; a mismatch (or a missing row)
	// fails with OPTIMISTIC_CHECK_FAILED and is never retried here.
	// Slug collisions with another ref fail with NODE_ALREADY_EXISTS.
	Put(ctx context.Context, node domain.Node, expectedEtag *string) error

	// Delete removes the snapshot row and its index entries. History in
	// the event store is unaffected.
	Delete(ctx context.Context, ref domain.NodeRef) error

	// ReleaseSlug frees a slug index entry if it still points at ref.
	// Used with the slug carried inside Deleted/Renamed events so the
	// read side need not re-fetch.
	ReleaseSlug(ctx context.Context, ref domain.NodeRef, slug string) error

	// FindRefs returns refs matching the query plus a continuation
	// cursor ("" when exhausted).
	FindRefs(ctx context.Context, q IndexQuery) ([]domain.NodeRef, string, error)
}
