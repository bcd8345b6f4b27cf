package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"nodelife.io/nodelife/internal/domain"
)

// MemoryIndex is an in-process Index used by tests and the seed tool.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]domain.Node
}

// NewMemoryIndex creates an empty in-memory search index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]domain.Node)}
}

// IndexBatch implements Index.
func (m *MemoryIndex) IndexBatch(ctx context.Context, nodes []domain.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range nodes {
		m.docs[node.Ref.String()] = node.Clone()
	}
	return nil
}

// DeleteBatch implements Index.
func (m *MemoryIndex) DeleteBatch(ctx context.Context, refs []domain.NodeRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range refs {
		delete(m.docs, ref.String())
	}
	return nil
}

// Search implements Index with substring matching over slug and labels.
func (m *MemoryIndex) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	m.mu.RLock()
	var matched []domain.Node
	for _, node := range m.docs {
		if !qnameAllowed(node.Ref.QName(), req.QNames) {
			continue
		}
		if req.Query != "" && !documentMatches(node, req.Query) {
			continue
		}
		matched = append(matched, node.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Ref.String() < matched[j].Ref.String()
	})

	total := int64(len(matched))
	if req.Offset > 0 {
		if req.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[req.Offset:]
		}
	}
	hasMore := false
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
		hasMore = true
	}

	return Response{
		Nodes:     matched,
		Total:     total,
		HasMore:   hasMore,
		TimeTaken: time.Since(start),
	}, nil
}

// Contains reports whether a ref is currently indexed. Test helper.
func (m *MemoryIndex) Contains(ref domain.NodeRef) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[ref.String()]
	return ok
}

func qnameAllowed(qname string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, q := range allowed {
		if q == qname {
			return true
		}
	}
	return false
}

func documentMatches(node domain.Node, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(node.Slug), q) {
		return true
	}
	for _, label := range node.Labels {
		if strings.Contains(strings.ToLower(label), q) {
			return true
		}
	}
	for _, v := range node.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}
