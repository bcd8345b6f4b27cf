package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	"nodelife.io/nodelife/internal/ncr"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/pkg/worker"
)

// DefaultReplayPageSize bounds one FindRefs page during a family replay.
const DefaultReplayPageSize = 200

// Replayer rebuilds read-model rows from event history. Every replayed
// event carries the replay flag, so the projector updates state without
// touching the search index or the scheduler; reindexing after a rebuild
// is a separate batch concern.
type Replayer struct {
	events     eventstore.Store
	nodes      ncr.Store
	dispatcher *domain.EventDispatcher
	pools      *worker.Pools
	pageSize   int
}

// NewReplayer creates a replayer fanning node replays out over the replay
// worker pool.
func NewReplayer(events eventstore.Store, nodes ncr.Store, dispatcher *domain.EventDispatcher, pools *worker.Pools) *Replayer {
	return &Replayer{
		events:     events,
		nodes:      nodes,
		dispatcher: dispatcher,
		pools:      pools,
		pageSize:   DefaultReplayPageSize,
	}
}

// ReplayNodes rebuilds the given nodes concurrently and returns the first
// failure, after every started replay has finished.
func (r *Replayer) ReplayNodes(ctx context.Context, refs []domain.NodeRef) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, ref := range refs {
		ref := ref
		wg.Add(1)
		if err := r.pools.Replay.Submit(ctx, func(ctx context.Context) {
			defer wg.Done()
			if err := r.ReplayNode(ctx, ref); err != nil {
				fail(err)
			}
		}); err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()
	return firstErr
}

// ReplayNode replays one node's full stream through the projector.
func (r *Replayer) ReplayNode(ctx context.Context, ref domain.NodeRef) error {
	logger.Info("replaying node history", zap.String("node_ref", ref.String()))

	count := 0
	it := r.events.PipeAll(ctx, ref.StreamID(), nil)
	for it.Next(ctx) {
		evt := it.Event()
		evt.Replay = true
		if err := r.dispatcher.Dispatch(ctx, evt); err != nil {
			return err
		}
		count++
	}
	if err := it.Err(); err != nil {
		return err
	}

	logger.Info("node history replayed",
		zap.String("node_ref", ref.String()),
		zap.Int("events", count),
	)
	return nil
}

// ReplayFamily rebuilds every node of one (vendor, label) family, paging
// through the read-model's ref index.
func (r *Replayer) ReplayFamily(ctx context.Context, vendor, label string) error {
	cursor := ""
	for {
		refs, next, err := r.nodes.FindRefs(ctx, ncr.IndexQuery{
			Vendor: vendor,
			Label:  label,
			Cursor: cursor,
			Limit:  r.pageSize,
		})
		if err != nil {
			return err
		}
		if err := r.ReplayNodes(ctx, refs); err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}
