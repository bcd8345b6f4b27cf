// Package search defines the queryable denormalized copy of visible nodes,
// plus its default implementations. The projector keeps it reconciled with
// the read-model during live processing; replay never writes here.
package search

import (
	"context"
	"time"

	"nodelife.io/nodelife/internal/domain"
)

// Request is a search query scoped to one or more entity families.
type Request struct {
	// Query is free text matched against the indexed document.
	Query string

	// QNames restricts results to the given "vendor.label" families.
	QNames []string

	Limit  int
	Offset int
}

// Response is a page of matching nodes.
type Response struct {
	Nodes     []domain.Node
	Total     int64
	HasMore   bool
	TimeTaken time.Duration
}

// Index is the search index interface.
type Index interface {
	IndexBatch(ctx context.Context, nodes []domain.Node) error
	DeleteBatch(ctx context.Context, refs []domain.NodeRef) error
	Search(ctx context.Context, req Request) (Response, error)
}
