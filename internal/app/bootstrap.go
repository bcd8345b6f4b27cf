// Package app is the composition root: bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"nodelife.io/nodelife/internal/config"
	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/eventstore"
	"nodelife.io/nodelife/internal/infrastructure"
	"nodelife.io/nodelife/internal/jobs"
	"nodelife.io/nodelife/internal/ncr"
	"nodelife.io/nodelife/internal/pkg/worker"
	"nodelife.io/nodelife/internal/projector"
	"nodelife.io/nodelife/internal/scheduler"
	"nodelife.io/nodelife/internal/search"
	"nodelife.io/nodelife/internal/usecase"
	"nodelife.io/nodelife/internal/watcher"
)

// Application holds composed application dependencies.
type Application struct {
	Config   *config.Config
	Router   *gin.Engine
	Clients  *infrastructure.Clients
	Pools    *worker.Pools
	Registry *usecase.Registry
	Bus      *usecase.CommandBus
	Replayer *usecase.Replayer
	Search   search.Index
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	clients, err := infrastructure.NewClients(ctx, cfg.Database, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init storage clients: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		ReplayPoolSize:  cfg.Worker.ReplayPoolSize,
	})
	if err != nil {
		clients.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	events := eventstore.NewPostgresStore(clients.Pool)
	nodes := ncr.NewRedisStore(clients.Redis)
	index := search.NewPostgresIndex(clients.Pool)
	sched := scheduler.NewRiverScheduler(clients.Pool)

	if cfg.Database.AutoMigrate {
		if err := migrate(ctx, clients, events, index, sched); err != nil {
			pools.Shutdown()
			clients.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		pools.Shutdown()
		clients.Close()
		return nil, fmt.Errorf("build registry: %w", err)
	}

	proj := projector.New(nodes, index,
		watcher.NewPublishable(sched, registry.Traits,
			watcher.WithScheduleBump(cfg.Engine.ScheduleBump)),
		watcher.NewExpirable(sched, registry.Traits,
			watcher.WithScheduleBump(cfg.Engine.ScheduleBump)),
	)
	dispatcher := domain.NewEventDispatcher()
	dispatcher.RegisterAll(proj.HandleEvent)

	bus := usecase.NewCommandBus(registry, events, nodes, dispatcher,
		usecase.WithAnticipationThreshold(cfg.Engine.AnticipationThreshold))
	replayer := usecase.NewReplayer(events, nodes, dispatcher, pools)

	// The River client needs its workers at construction, and the command
	// worker feeds the bus built above; the scheduler gets the client
	// bound last.
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewNodeCommandWorker(bus))
	if err := clients.InitRiverClient(workers, cfg.River); err != nil {
		pools.Shutdown()
		clients.Close()
		return nil, fmt.Errorf("init river client: %w", err)
	}
	sched.Bind(clients.RiverClient)

	application := &Application{
		Config:   cfg,
		Clients:  clients,
		Pools:    pools,
		Registry: registry,
		Bus:      bus,
		Replayer: replayer,
		Search:   index,
	}
	application.Router = newRouter(application)
	return application, nil
}

func buildRegistry(cfg *config.Config) (*usecase.Registry, error) {
	defs := make([]usecase.Definition, 0, len(cfg.Entities))
	for _, e := range cfg.Entities {
		defs = append(defs, usecase.Definition{
			Label: e.Label,
			Traits: domain.Traits{
				Workflow:    e.Workflow,
				Publishable: e.Publishable,
				Expirable:   e.Expirable,
				Sluggable:   e.Sluggable,
			},
		})
	}
	return usecase.NewRegistry(defs...)
}

func migrate(
	ctx context.Context,
	clients *infrastructure.Clients,
	events *eventstore.PostgresStore,
	index *search.PostgresIndex,
	sched *scheduler.RiverScheduler,
) error {
	if err := events.Migrate(ctx); err != nil {
		return err
	}
	if err := index.Migrate(ctx); err != nil {
		return err
	}
	if err := sched.Migrate(ctx); err != nil {
		return err
	}
	return clients.MigrateRiver(ctx)
}
