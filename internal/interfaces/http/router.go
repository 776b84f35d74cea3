package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/touchon/flowbus/internal/interfaces/http/handlers"
	"github.com/touchon/flowbus/internal/interfaces/http/middleware"
	"github.com/touchon/flowbus/internal/shared/logger"
)

// Router represents the HTTP router configuration
type Router struct {
	engine        *gin.Engine
	nodeHandler   *handlers.NodeHandler
	healthHandler *handlers.HealthHandler
	gatherer      prometheus.Gatherer
}

// NewRouter wires the status API over rt. Metrics are served from gatherer
// when it is non-nil.
func NewRouter(rt handlers.FlowRuntime, gatherer prometheus.Gatherer, log logger.Interface) *Router {
	engine := gin.New()
	engine.Use(middleware.Logger(log), middleware.Recovery(log))

	return &Router{
		engine:        engine,
		nodeHandler:   handlers.NewNodeHandler(rt, log),
		healthHandler: handlers.NewHealthHandler(rt),
		gatherer:      gatherer,
	}
}

// SetupRoutes registers every endpoint.
func (r *Router) SetupRoutes() {
	r.engine.GET("/health", r.healthHandler.Health)

	nodes := r.engine.Group("/nodes")
	{
		nodes.GET("", r.nodeHandler.ListNodes)
		nodes.GET("/:id", r.nodeHandler.GetNode)
		nodes.POST("/:id/trigger", r.nodeHandler.TriggerNode)
	}

	if r.gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}
}

// GetEngine returns the gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
