package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusync/internal/app"
	"github.com/charlesng35/campusync/internal/handlers"
	"github.com/charlesng35/campusync/internal/middleware"
	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/offline"
	"github.com/charlesng35/campusync/internal/realtime"
	"github.com/charlesng35/campusync/internal/services"
)

// Dependencies are the collaborators served by the router.
type Dependencies struct {
	Config     *app.Config
	Runtime    *offline.Runtime
	Portal     *services.Portal
	Hub        *realtime.Hub
	Monitoring *monitoring.Module
}

// NewRouter builds the Gin engine, wires middleware and registers the API routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Runtime == nil {
		return nil, fmt.Errorf("runtime must be provided")
	}
	if deps.Portal == nil {
		return nil, fmt.Errorf("portal must be provided")
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	registerHealthRoutes(r, cfg, deps.Monitoring)

	api := r.Group("/api")

	registerCollectionRoutes(api, handlers.NewCollectionHandler(deps.Portal))
	registerQueueRoutes(api, handlers.NewQueueHandler(deps.Runtime.Queue))
	registerNetworkRoutes(api, handlers.NewNetworkHandler(deps.Runtime.Monitor))

	if deps.Hub != nil {
		api.GET("/events", handlers.NewRealtimeHandler(deps.Hub).Stream)
	}

	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, cfg, deps.Runtime.Queue, deps.Runtime.Monitor))

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled && deps.Monitoring != nil {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(deps.Monitoring.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
