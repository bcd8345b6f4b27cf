package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nodelife.io/nodelife/internal/pkg/logger"
)

// Start starts background services (River workers).
func (a *Application) Start(ctx context.Context) error {
	if a.Clients != nil && a.Clients.RiverClient != nil {
		if err := a.Clients.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, deferred commands will now be delivered")
	}
	return nil
}

// Shutdown gracefully shuts down all application components.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.Clients != nil && a.Clients.RiverClient != nil {
		if err := a.Clients.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.Clients != nil {
		a.Clients.Close()
	}
}
