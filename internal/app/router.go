package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nodelife.io/nodelife/internal/pkg/logger"
)

// newRouter builds the ops surface. Command routing is not exposed here;
// commands enter through the bus and the scheduler.
func newRouter(a *Application) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := a.Clients.Pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unreachable"})
			return
		}
		if err := a.Clients.Redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	ops := router.Group("/ops")
	{
		// GET returns the current level, PUT {"level":"debug"} changes it.
		ops.Any("/log-level", gin.WrapH(logger.HTTPHandler()))

		ops.GET("/pools", func(c *gin.Context) {
			c.JSON(http.StatusOK, a.Pools.Metrics())
		})

		ops.GET("/entities", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"labels": a.Registry.Labels()})
		})
	}

	return router
}
