package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signals-backend/internal/aggregator"
	"signals-backend/internal/analysis"
	"signals-backend/internal/orchestrator"
	"signals-backend/internal/shared/config"
	"signals-backend/internal/shared/metrics"
	"signals-backend/internal/shared/server/middleware"
	"signals-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers wired by bootstrap.
type RouterDeps struct {
	Config            config.Config
	AnalysisHandler   *analysis.Handler
	PipelineHandler   *orchestrator.Handler
	AggregatorHandler *aggregator.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(deps.Config.APIToken))
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}
	if deps.PipelineHandler != nil {
		deps.PipelineHandler.RegisterRoutes(api)
	}
	if deps.AggregatorHandler != nil {
		deps.AggregatorHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
