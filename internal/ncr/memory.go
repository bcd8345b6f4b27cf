package ncr

import (
	"context"
	"sort"
	"sync"

	"nodelife.io/nodelife/internal/domain"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

// MemoryStore is an in-process Store used by tests and the seed tool.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]domain.Node // ref string → snapshot
	slugs map[string]string      // vendor:label:slug → ref string
}

// NewMemoryStore creates an empty in-memory read-model store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]domain.Node),
		slugs: make(map[string]string),
	}
}

func slugKey(vendor, label, slug string) string {
	return vendor + ":" + label + ":" + slug
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ref domain.NodeRef, consistent bool) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[ref.String()]
	if !ok {
		return domain.Node{}, apperrors.ErrNodeNotFoundf(ref.String())
	}
	return node.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, node domain.Node, expectedEtag *string) error {
	key := node.Ref.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.nodes[key]
	if expectedEtag != nil {
		actual := ""
		if exists {
			actual = current.Etag
		}
		if actual != *expectedEtag {
			return apperrors.ErrOptimisticCheckFailedf(key, *expectedEtag, actual)
		}
	}

	if node.Slug != "" {
		sk := slugKey(node.Ref.Vendor, node.Ref.Label, node.Slug)
		if holder, taken := s.slugs[sk]; taken && holder != key {
			return apperrors.ErrNodeAlreadyExistsf(key, node.Slug)
		}
		s.slugs[sk] = key
	}
	// Free the previous slug of this same ref when it changed.
	if exists && current.Slug != "" && current.Slug != node.Slug {
		old := slugKey(node.Ref.Vendor, node.Ref.Label, current.Slug)
		if s.slugs[old] == key {
			delete(s.slugs, old)
		}
	}

	s.nodes[key] = node.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, ref domain.NodeRef) error {
	key := ref.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if node, ok := s.nodes[key]; ok && node.Slug != "" {
		sk := slugKey(ref.Vendor, ref.Label, node.Slug)
		if s.slugs[sk] == key {
			delete(s.slugs, sk)
		}
	}
	delete(s.nodes, key)
	return nil
}

// ReleaseSlug implements Store.
func (s *MemoryStore) ReleaseSlug(ctx context.Context, ref domain.NodeRef, slug string) error {
	if slug == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := slugKey(ref.Vendor, ref.Label, slug)
	if s.slugs[sk] == ref.String() {
		delete(s.slugs, sk)
	}
	return nil
}

// FindRefs implements Store. Cursor is the last returned ref string.
func (s *MemoryStore) FindRefs(ctx context.Context, q IndexQuery) ([]domain.NodeRef, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Slug != "" {
		holder, ok := s.slugs[slugKey(q.Vendor, q.Label, q.Slug)]
		if !ok {
			return nil, "", nil
		}
		ref, err := domain.ParseNodeRef(holder)
		if err != nil {
			return nil, "", err
		}
		return []domain.NodeRef{ref}, "", nil
	}

	keys := make([]string, 0, len(s.nodes))
	for key, node := range s.nodes {
		if q.Vendor != "" && node.Ref.Vendor != q.Vendor {
			continue
		}
		if q.Label != "" && node.Ref.Label != q.Label {
			continue
		}
		if q.Status != "" && node.Status != q.Status {
			continue
		}
		if q.Cursor != "" && key <= q.Cursor {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	next := ""
	if q.Limit > 0 && len(keys) > q.Limit {
		keys = keys[:q.Limit]
		next = keys[len(keys)-1]
	}

	refs := make([]domain.NodeRef, 0, len(keys))
	for _, key := range keys {
		ref, err := domain.ParseNodeRef(key)
		if err != nil {
			return nil, "", err
		}
		refs = append(refs, ref)
	}
	return refs, next, nil
}
