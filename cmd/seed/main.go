// Package main is a smoke/demo harness: it drives the full command path
// against the in-memory adapters with generated or fixture-provided
// nodes, then reports what the read-model and search index hold.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	"nodelife.io/nodelife/internal/ncr"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/projector"
	"nodelife.io/nodelife/internal/scheduler"
	"nodelife.io/nodelife/internal/search"
	"nodelife.io/nodelife/internal/usecase"
	"nodelife.io/nodelife/internal/watcher"
)

const (
	seedVendor = "acme"
	seedLabel  = "article"
	seedActor  = "user:seed"
)

// fixture is the YAML shape for pre-authored seed nodes.
type fixture struct {
	Nodes []fixtureNode `yaml:"nodes"`
}

type fixtureNode struct {
	ID      string         `yaml:"id"`
	Slug    string         `yaml:"slug"`
	Labels  []string       `yaml:"labels"`
	Fields  map[string]any `yaml:"fields"`
	Publish bool           `yaml:"publish"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	count := flag.Int("count", 10, "number of fake nodes to generate")
	fixturePath := flag.String("fixtures", "", "optional YAML fixture file")
	randSeed := flag.Int64("seed", 0, "fake data seed (0 = random)")
	flag.Parse()

	if err := logger.Init("info", "console"); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if *randSeed != 0 {
		gofakeit.Seed(*randSeed)
	}

	ctx := context.Background()

	events := eventstore.NewMemoryStore()
	nodes := ncr.NewMemoryStore()
	index := search.NewMemoryIndex()
	sched := scheduler.NewMemoryScheduler()

	registry, err := usecase.NewRegistry(usecase.Definition{
		Label: seedLabel,
		Traits: domain.Traits{
			Workflow:    true,
			Publishable: true,
			Expirable:   true,
			Sluggable:   true,
		},
	})
	if err != nil {
		return err
	}

	proj := projector.New(nodes, index,
		watcher.NewPublishable(sched, registry.Traits),
		watcher.NewExpirable(sched, registry.Traits),
	)
	dispatcher := domain.NewEventDispatcher()
	dispatcher.RegisterAll(proj.HandleEvent)
	bus := usecase.NewCommandBus(registry, events, nodes, dispatcher)

	seeds, err := loadSeeds(*fixturePath, *count)
	if err != nil {
		return err
	}

	for _, s := range seeds {
		if err := seedNode(ctx, bus, s); err != nil {
			return fmt.Errorf("seed node %s: %w", s.ID, err)
		}
	}

	return report(ctx, index, sched, len(seeds))
}

// loadSeeds reads the fixture file when given, and tops up with generated
// nodes to the requested count.
func loadSeeds(path string, count int) ([]fixtureNode, error) {
	var seeds []fixtureNode

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fixtures: %w", err)
		}
		var f fixture
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse fixtures: %w", err)
		}
		seeds = f.Nodes
		logger.Info("Loaded fixtures", zap.String("path", path), zap.Int("nodes", len(seeds)))
	}

	for i := len(seeds); i < count; i++ {
		seeds = append(seeds, fixtureNode{
			ID:     gofakeit.UUID(),
			Slug:   fmt.Sprintf("%s-%s-%d", gofakeit.Adjective(), gofakeit.Noun(), i),
			Labels: []string{gofakeit.Verb(), gofakeit.Adjective()},
			Fields: map[string]any{
				"title": gofakeit.Sentence(4),
				"body":  gofakeit.Paragraph(1, 3, 8, " "),
			},
			Publish: gofakeit.Bool(),
		})
	}
	return seeds, nil
}

func seedNode(ctx context.Context, bus *usecase.CommandBus, s fixtureNode) error {
	ref := domain.NewNodeRef(seedVendor, seedLabel, s.ID)

	if err := bus.Execute(ctx, &domain.CreateNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: seedActor},
		Node: domain.Node{
			Slug:   s.Slug,
			Labels: s.Labels,
			Fields: s.Fields,
		},
	}); err != nil {
		return err
	}

	if !s.Publish {
		return nil
	}
	if err := bus.Execute(ctx, &domain.MarkNodeAsPending{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: seedActor},
	}); err != nil {
		return err
	}
	return bus.Execute(ctx, &domain.PublishNode{
		CommandBase: domain.CommandBase{Ref: ref, CtxUserRef: seedActor},
	})
}

func report(ctx context.Context, index search.Index, sched *scheduler.MemoryScheduler, seeded int) error {
	resp, err := index.Search(ctx, search.Request{
		QNames: []string{seedVendor + "." + seedLabel},
		Limit:  1000,
	})
	if err != nil {
		return err
	}

	logger.Info("Seeding completed",
		zap.Int("nodes_seeded", seeded),
		zap.Int64("published_in_index", resp.Total),
		zap.Int("pending_jobs", sched.PendingCount()),
		zap.Duration("search_took", resp.TimeTaken),
	)
	return nil
}
