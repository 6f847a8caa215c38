package statistics

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/cardiorisk/internal/logging"
)

// Handler serves the statistics endpoint.
type Handler struct {
	agg *Aggregator
}

// NewHandler creates a statistics handler.
func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// RegisterRoutes sets up statistics routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/statistics", h.GetStatistics)
}

// GetStatistics handles GET /statistics
func (h *Handler) GetStatistics(c *gin.Context) {
	st, err := h.agg.Compute(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to compute statistics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "statistics_failed",
			"message": "Failed to compute statistics",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"statistics": st,
	})
}
