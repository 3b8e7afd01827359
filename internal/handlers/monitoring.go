package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusync/internal/app"
	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/pkg/response"
)

// QueueStatter reports queue aggregates.
type QueueStatter interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// MonitoringHandler surfaces monitoring summaries.
type MonitoringHandler struct {
	module  *monitoring.Module
	cfg     *app.Config
	queue   QueueStatter
	monitor *connectivity.Monitor
}

// NewMonitoringHandler constructs a monitoring handler. Returns nil when monitoring is disabled.
func NewMonitoringHandler(module *monitoring.Module, cfg *app.Config, q QueueStatter, monitor *connectivity.Monitor) *MonitoringHandler {
	if module == nil || cfg == nil {
		return nil
	}
	if !cfg.Monitoring.Health.Enabled && !cfg.Monitoring.Prometheus.Enabled {
		return nil
	}
	return &MonitoringHandler{module: module, cfg: cfg, queue: q, monitor: monitor}
}

// Summary returns aggregated monitoring statistics alongside live queue and network state.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	endpoint := strings.TrimSpace(h.cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}

	payload := gin.H{
		"summary": h.module.Summary(),
		"prometheus": gin.H{
			"enabled":  h.cfg.Monitoring.Prometheus.Enabled,
			"endpoint": endpoint,
		},
	}

	degraded := false
	if h.queue != nil {
		stats, err := h.queue.Stats(requestContext(c))
		if err != nil {
			degraded = true
		} else {
			payload["queue"] = stats
		}
	}
	if h.monitor != nil {
		payload["network"] = h.monitor.Status()
	}

	if degraded {
		response.SuccessWithMeta(c, http.StatusOK, payload, &response.Meta{Degraded: true})
		return
	}
	response.Success(c, http.StatusOK, payload)
}
