package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthController answers liveness probes
type HealthController struct {
	backend string
}

// NewHealthController creates the controller with the active backend name
func NewHealthController(backend string) *HealthController {
	return &HealthController{backend: backend}
}

// HealthCheck handles GET /
func (ctrl *HealthController) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "sitepress-engine",
		"backend": ctrl.backend,
		"version": "1.0.0",
	})
}
