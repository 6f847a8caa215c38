package mlservice

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/cardiorisk/internal/circuitbreaker"
	"github.com/mbd888/cardiorisk/internal/logging"
)

// HealthReporter is the part of Client the health endpoint needs.
type HealthReporter interface {
	Health(ctx context.Context) (*HealthReport, error)
	BaseURL() string
	Circuit() *circuitbreaker.Snapshot
}

// Handler exposes the model service's reachability over HTTP.
type Handler struct {
	client HealthReporter
}

// NewHandler creates an ml-health handler.
func NewHandler(client HealthReporter) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes sets up model service routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ml-health", h.MLHealth)
}

// MLHealth handles GET /ml-health
func (h *Handler) MLHealth(c *gin.Context) {
	report, err := h.client.Health(c.Request.Context())
	circuit := h.client.Circuit()
	if err == nil {
		resp := gin.H{
			"success":        true,
			"status":         "reachable",
			"ml_service_url": h.client.BaseURL(),
			"ml_service":     report.Payload,
		}
		if circuit != nil {
			resp["circuit"] = circuit
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	logging.L(c.Request.Context()).Warn("ml service health check failed", "error", err)

	resp := gin.H{
		"success":        false,
		"status":         "unreachable",
		"ml_service_url": h.client.BaseURL(),
		"error":          err.Error(),
	}
	var merr *Error
	if errors.As(err, &merr) {
		resp["class"] = string(merr.Class)
		if merr.StatusCode != 0 {
			resp["status_code"] = merr.StatusCode
		}
	}
	if report != nil && report.Payload != nil {
		resp["ml_service"] = report.Payload
	}
	if circuit != nil {
		resp["circuit"] = circuit
	}
	c.JSON(http.StatusServiceUnavailable, resp)
}
