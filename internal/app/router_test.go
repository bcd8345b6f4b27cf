package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"nodelife.io/nodelife/internal/domain"
	"nodelife.io/nodelife/internal/pkg/logger"
	"nodelife.io/nodelife/internal/pkg/worker"
	"nodelife.io/nodelife/internal/usecase"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	registry, err := usecase.NewRegistry(
		usecase.Definition{Label: "article", Traits: domain.Traits{Workflow: true}},
		usecase.Definition{Label: "asset"},
	)
	require.NoError(t, err)

	pools, err := worker.NewPools(t.Context(), worker.PoolConfig{GeneralPoolSize: 2, ReplayPoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	return newRouter(&Application{Registry: registry, Pools: pools})
}

func TestHealthzEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestEntitiesEndpointListsSortedLabels(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/entities", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Labels []string `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, []string{"article", "asset"}, body.Labels)
}

func TestPoolsEndpointReportsMetrics(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/pools", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "general")
}

func TestLogLevelEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/log-level", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "level")
}
