package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/pkg/response"
)

// NetworkHandler reports and accepts connectivity status.
type NetworkHandler struct {
	monitor *connectivity.Monitor
}

// NewNetworkHandler constructs a network handler.
func NewNetworkHandler(monitor *connectivity.Monitor) *NetworkHandler {
	return &NetworkHandler{monitor: monitor}
}

type networkStatusDTO struct {
	connectivity.Status
	IsSlow bool `json:"isSlow"`
}

type networkReport struct {
	IsOnline       *bool  `json:"isOnline" validate:"required"`
	ConnectionType string `json:"connectionType"`
	EffectiveType  string `json:"effectiveType" validate:"omitempty,oneof=slow-2g 2g 3g 4g"`
}

func (r *networkReport) normalize() {
	r.ConnectionType = strings.TrimSpace(r.ConnectionType)
	r.EffectiveType = strings.ToLower(strings.TrimSpace(r.EffectiveType))
}

// Get returns the current status.
func (h *NetworkHandler) Get(c *gin.Context) {
	response.Success(c, http.StatusOK, h.dto())
}

// Put applies a platform-reported status, typically forwarded by the UI shell.
func (h *NetworkHandler) Put(c *gin.Context) {
	var payload networkReport
	if !bindAndValidate(c, &payload) {
		return
	}

	h.monitor.Report(connectivity.Status{
		IsOnline:       *payload.IsOnline,
		ConnectionType: payload.ConnectionType,
		EffectiveType:  payload.EffectiveType,
	})
	response.Success(c, http.StatusOK, h.dto())
}

func (h *NetworkHandler) dto() networkStatusDTO {
	return networkStatusDTO{
		Status: h.monitor.Status(),
		IsSlow: h.monitor.IsSlowConnection(),
	}
}
