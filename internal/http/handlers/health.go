package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness plus the service's artifact storage mode
// and whether the Temporal driver is connected.
type HealthHandler struct {
	storageMode     string
	temporalEnabled bool
}

func NewHealthHandler(storageMode string, temporalEnabled bool) *HealthHandler {
	return &HealthHandler{storageMode: storageMode, temporalEnabled: temporalEnabled}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"storage_mode":     h.storageMode,
		"temporal_enabled": h.temporalEnabled,
	})
}
