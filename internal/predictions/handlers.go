package predictions

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/cardiorisk/internal/logging"
	"github.com/mbd888/cardiorisk/internal/pagination"
	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
	"github.com/mbd888/cardiorisk/internal/validation"
)

// Handler provides HTTP endpoints for predictions
type Handler struct {
	service *Service
}

// NewHandler creates a new predictions handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up prediction routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/predict", h.Predict)
	r.GET("/predictions", h.ListPredictions)
}

// PredictResponse is the body of a successful POST /predict.
type PredictResponse struct {
	Success     bool            `json:"success"`
	Prediction  risk.Result     `json:"prediction"`
	PatientData patient.Profile `json:"patient_data"`
	MLInsights  *risk.Insights  `json:"ml_insights"`
	Saved       bool            `json:"saved"`
	SessionID   string          `json:"session_id"`
	Message     string          `json:"message"`
}

// Predict handles POST /predict
func (h *Handler) Predict(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   "request_too_large",
				"message": "Request body is too large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid_request",
			"message": "Request body must be a JSON object",
		})
		return
	}

	m, err := patient.Parse(raw)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "validation_failed",
				"message": "One or more fields are invalid",
				"details": verrs,
			})
			return
		}
		h.internalError(c, err)
		return
	}

	out, err := h.service.Predict(c.Request.Context(), m, c.Request.UserAgent())
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, PredictResponse{
		Success:     true,
		Prediction:  out.Result,
		PatientData: m.Describe(out.Result.BMI),
		MLInsights:  out.Result.Insights,
		Saved:       out.Saved,
		SessionID:   out.Record.SessionID,
		Message:     predictMessage(out),
	})
}

func predictMessage(out *Outcome) string {
	msg := "Prediction completed"
	if out.Result.Source == risk.SourceHeuristic {
		msg += " using the fallback heuristic (ML service unavailable)"
	}
	if !out.Saved {
		msg += "; the result could not be saved"
	}
	return msg
}

// ListPredictions handles GET /predictions
func (h *Handler) ListPredictions(c *gin.Context) {
	params := pagination.Parse(c.Query("page"), c.Query("limit"))

	filter, err := ParseFilter(c.Query("riskLevel"), c.Query("gender"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid_filter",
			"message": err.Error(),
		})
		return
	}

	records, total, err := h.service.Store().List(c.Request.Context(), filter, params)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list predictions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "list_failed",
			"message": "Failed to fetch predictions",
		})
		return
	}
	if records == nil {
		records = []*Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       records,
		"pagination": pagination.NewPage(params, total),
	})
}

func (h *Handler) internalError(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Error("prediction request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "internal_error",
		"message": "An unexpected error occurred",
	})
}
