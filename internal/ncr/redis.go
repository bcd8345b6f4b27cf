package ncr

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"nodelife.io/nodelife/internal/domain"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

const (
	nodeKeyPrefix   = "ncr:node:"
	slugKeyPrefix   = "ncr:slug:"
	familyKeyPrefix = "ncr:family:"
)

// RedisStore is the production read-model store on Redis. The node snapshot
// is stored as JSON per ref; the slug uniqueness index and the per-family
// ref set are secondary keys maintained alongside each write.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore creates a Redis-backed read-model store.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func nodeKey(ref domain.NodeRef) string { return nodeKeyPrefix + ref.String() }

func redisSlugKey(vendor, label, slug string) string {
	return slugKeyPrefix + vendor + ":" + label + ":" + slug
}

func familyKey(vendor, label string) string {
	return familyKeyPrefix + vendor + ":" + label
}

// Get implements Store. Redis reads from the primary, so the consistent
// flag has no weaker mode to relax into.
func (s *RedisStore) Get(ctx context.Context, ref domain.NodeRef, consistent bool) (domain.Node, error) {
	data, err := s.rdb.Get(ctx, nodeKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Node{}, apperrors.ErrNodeNotFoundf(ref.String())
	}
	if err != nil {
		return domain.Node{}, apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
			"get node snapshot (key="+nodeKey(ref)+")")
	}

	var node domain.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return domain.Node{}, apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
			"decode node snapshot (key="+nodeKey(ref)+")")
	}
	return node, nil
}

// Put implements Store. The etag compare-and-set runs under WATCH so a
// concurrent writer aborts this transaction rather than being overwritten;
// the abort surfaces as OPTIMISTIC_CHECK_FAILED, never a silent retry.
func (s *RedisStore) Put(ctx context.Context, node domain.Node, expectedEtag *string) error {
	key := nodeKey(node.Ref)
	refStr := node.Ref.String()

	data, err := json.Marshal(node)
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
			"encode node snapshot (key="+key+")")
	}

	txn := func(tx *redis.Tx) error {
		var current *domain.Node
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
				"read current snapshot (key="+key+")")
		default:
			var cur domain.Node
			if err := json.Unmarshal(raw, &cur); err != nil {
				return apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
					"decode current snapshot (key="+key+")")
			}
			current = &cur
		}

		if expectedEtag != nil {
			actual := ""
			if current != nil {
				actual = current.Etag
			}
			if actual != *expectedEtag {
				return apperrors.ErrOptimisticCheckFailedf(refStr, *expectedEtag, actual)
			}
		}

		var newSlugKey string
		if node.Slug != "" {
			newSlugKey = redisSlugKey(node.Ref.Vendor, node.Ref.Label, node.Slug)
			holder, err := tx.Get(ctx, newSlugKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
					"read slug index (key="+newSlugKey+")")
			}
			if err == nil && holder != refStr {
				return apperrors.ErrNodeAlreadyExistsf(refStr, node.Slug)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if newSlugKey != "" {
				pipe.Set(ctx, newSlugKey, refStr, 0)
			}
			if current != nil && current.Slug != "" && current.Slug != node.Slug {
				pipe.Del(ctx, redisSlugKey(node.Ref.Vendor, node.Ref.Label, current.Slug))
			}
			pipe.SAdd(ctx, familyKey(node.Ref.Vendor, node.Ref.Label), refStr)
			return nil
		})
		return err
	}

	err = s.rdb.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return apperrors.ErrOptimisticCheckFailedf(refStr, deref(expectedEtag), "")
	}
	return err
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, ref domain.NodeRef) error {
	key := nodeKey(ref)

	node, err := s.Get(ctx, ref, true)
	if err != nil && !apperrors.IsNodeNotFound(err) {
		return err
	}

	_, pipeErr := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if node.Slug != "" {
			pipe.Del(ctx, redisSlugKey(ref.Vendor, ref.Label, node.Slug))
		}
		pipe.SRem(ctx, familyKey(ref.Vendor, ref.Label), ref.String())
		return nil
	})
	if pipeErr != nil {
		return apperrors.WrapInternal(pipeErr, apperrors.CodeReadModelFailure,
			"delete node snapshot (key="+key+")")
	}
	return nil
}

// ReleaseSlug implements Store.
func (s *RedisStore) ReleaseSlug(ctx context.Context, ref domain.NodeRef, slug string) error {
	if slug == "" {
		return nil
	}
	sk := redisSlugKey(ref.Vendor, ref.Label, slug)
	holder, err := s.rdb.Get(ctx, sk).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
			"read slug index (key="+sk+")")
	}
	if holder != ref.String() {
		return nil
	}
	if err := s.rdb.Del(ctx, sk).Err(); err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
			"release slug index (key="+sk+")")
	}
	return nil
}

// FindRefs implements Store. Cursor is the SSCAN cursor of the family set.
func (s *RedisStore) FindRefs(ctx context.Context, q IndexQuery) ([]domain.NodeRef, string, error) {
	if q.Slug != "" {
		sk := redisSlugKey(q.Vendor, q.Label, q.Slug)
		holder, err := s.rdb.Get(ctx, sk).Result()
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
				"find by slug (key="+sk+")")
		}
		ref, err := domain.ParseNodeRef(holder)
		if err != nil {
			return nil, "", err
		}
		return []domain.NodeRef{ref}, "", nil
	}

	var cursor uint64
	if q.Cursor != "" {
		c, err := strconv.ParseUint(q.Cursor, 10, 64)
		if err != nil {
			return nil, "", apperrors.BadRequest(apperrors.CodeReadModelFailure, "malformed cursor")
		}
		cursor = c
	}
	count := int64(q.Limit)
	if count <= 0 {
		count = 100
	}

	members, next, err := s.rdb.SScan(ctx, familyKey(q.Vendor, q.Label), cursor, "", count).Result()
	if err != nil {
		return nil, "", apperrors.WrapInternal(err, apperrors.CodeReadModelFailure,
			"scan family set (key="+familyKey(q.Vendor, q.Label)+")")
	}

	refs := make([]domain.NodeRef, 0, len(members))
	for _, member := range members {
		ref, err := domain.ParseNodeRef(member)
		if err != nil {
			return nil, "", err
		}
		if q.Status != "" {
			node, err := s.Get(ctx, ref, false)
			if apperrors.IsNodeNotFound(err) {
				continue
			}
			if err != nil {
				return nil, "", err
			}
			if node.Status != q.Status {
				continue
			}
		}
		refs = append(refs, ref)
	}

	nextCursor := ""
	if next != 0 {
		nextCursor = strconv.FormatUint(next, 10)
	}
	return refs, nextCursor, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
