package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	h := NewHandlers(NewGatewayClient(Config{APIURL: ts.URL}))
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func patientArgs() map[string]any {
	return map[string]any{
		"age": float64(60), "gender": float64(2), "height": float64(170), "weight": float64(90),
		"ap_hi": float64(150), "ap_lo": float64(95), "cholesterol": float64(3), "gluc": float64(3),
		"smoke": true, "alco": false, "active": false,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "validation_failed",
			"message": "One or more fields are invalid",
			"details": []map[string]string{{"field": "age", "message": "must be between 1 and 120"}},
		})
	}))
	defer ts.Close()

	client := NewGatewayClient(Config{APIURL: ts.URL})
	_, err := client.Predict(context.Background(), map[string]any{"age": 500})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "One or more fields are invalid")
	assert.Contains(t, err.Error(), "age must be between 1 and 120")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewGatewayClient(Config{APIURL: ts.URL})
	_, err := client.GetStatistics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewGatewayClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.GetStatistics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_ListPredictions_QueryParams(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))
	defer ts.Close()

	client := NewGatewayClient(Config{APIURL: ts.URL})
	_, err := client.ListPredictions(context.Background(), ListOptions{Page: 2, Limit: 5, RiskLevel: "high", Gender: "male"})
	require.NoError(t, err)
	assert.Equal(t, "/api/predictions", gotPath)
	assert.Equal(t, "2", gotQuery["page"][0])
	assert.Equal(t, "5", gotQuery["limit"][0])
	assert.Equal(t, "high", gotQuery["riskLevel"][0])
	assert.Equal(t, "male", gotQuery["gender"][0])
}

func TestClient_ListPredictions_OmitsEmptyParams(t *testing.T) {
	var rawQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer ts.Close()

	_, err := NewGatewayClient(Config{APIURL: ts.URL}).ListPredictions(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, rawQuery)
}

func TestClient_ModelHealth_UnavailableIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false, "status": "unreachable", "class": "connection",
		})
	}))
	defer ts.Close()

	raw, err := NewGatewayClient(Config{APIURL: ts.URL}).ModelHealth(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "unreachable")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandlePredict_ForwardsBodyAndFormats(t *testing.T) {
	var got map[string]any
	var contentType string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/predict", r.URL.Path)
		contentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &got)

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"prediction": map[string]any{
				"risk": 1, "confidence": 87, "probability": 0.87,
				"risk_label": "High Risk", "bmi": 31.1, "source": "remote",
			},
			"patient_data": map[string]any{"blood_pressure": "150/95"},
			"ml_insights": map[string]any{
				"risk_level": "HIGH", "bmi_category": "Obese",
				"recommendation": "Consult a cardiologist",
			},
			"saved":      true,
			"session_id": "abc-123",
		})
	}))
	defer cleanup()

	result, err := h.HandlePredict(context.Background(), makeRequest(patientArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, float64(60), got["age"])
	assert.Equal(t, true, got["smoke"])
	assert.Len(t, got, len(patientFields))

	text := resultText(t, result)
	assert.Contains(t, text, "High Risk (confidence 87%)")
	assert.Contains(t, text, "BMI: 31.1")
	assert.Contains(t, text, "Blood pressure: 150/95")
	assert.Contains(t, text, "Estimator: ML model")
	assert.Contains(t, text, "BMI category: Obese")
	assert.Contains(t, text, "Recommendation: Consult a cardiologist")
	assert.Contains(t, text, "Saved as session abc-123")
}

func TestHandlePredict_HeuristicUnsaved(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"prediction": map[string]any{
				"risk": 0, "confidence": 20, "risk_label": "Low Risk", "bmi": 20.2, "source": "heuristic",
			},
			"ml_insights": nil,
			"saved":       false,
		})
	}))
	defer cleanup()

	result, err := h.HandlePredict(context.Background(), makeRequest(patientArgs()))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Estimator: fallback heuristic")
	assert.Contains(t, text, "Not saved")
	assert.NotContains(t, text, "BMI category")
}

func TestHandlePredict_DropsUnknownArguments(t *testing.T) {
	var got map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer cleanup()

	args := patientArgs()
	args["notes"] = "ignore me"
	_, err := h.HandlePredict(context.Background(), makeRequest(args))
	require.NoError(t, err)
	_, ok := got["notes"]
	assert.False(t, ok)
}

func TestHandlePredict_MissingFields(t *testing.T) {
	called := false
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer cleanup()

	args := patientArgs()
	delete(args, "ap_hi")
	delete(args, "active")

	result, err := h.HandlePredict(context.Background(), makeRequest(args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "ap_hi, active")
	assert.False(t, called, "gateway should not be called")
}

func TestHandlePredict_ValidationError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "validation_failed",
			"message": "One or more fields are invalid",
			"details": []map[string]string{{"field": "gender", "message": "must be 1 (female) or 2 (male)"}},
		})
	}))
	defer cleanup()

	args := patientArgs()
	args["gender"] = float64(3)
	result, err := h.HandlePredict(context.Background(), makeRequest(args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "gender must be 1 (female) or 2 (male)")
}

func TestHandleListPredictions(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "low", r.URL.Query().Get("riskLevel"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": []map[string]any{{
				"session_id": "s-1", "risk": 0, "confidence": 20, "risk_label": "Low Risk",
				"source": "heuristic", "age": 30, "gender": 1,
				"created_at": "2026-03-01T10:00:00Z",
			}},
			"pagination": map[string]any{"page": 1, "limit": 10, "total": 1, "totalPages": 1},
		})
	}))
	defer cleanup()

	result, err := h.HandleListPredictions(context.Background(), makeRequest(map[string]any{"risk_level": "low"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1 predictions (page 1 of 1)")
	assert.Contains(t, text, "2026-03-01T10:00:00Z  Low Risk, confidence 20%")
	assert.Contains(t, text, "Age 30, female, via fallback heuristic")
	assert.Contains(t, text, "Session: s-1")
}

func TestHandleListPredictions_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))
	defer cleanup()

	result, err := h.HandleListPredictions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No predictions found.", resultText(t, result))
}

func TestHandleListPredictions_InvalidFilter(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "invalid_filter",
			"message": "predictions: invalid filter: gender must be female, male, 1 or 2",
		})
	}))
	defer cleanup()

	result, err := h.HandleListPredictions(context.Background(), makeRequest(map[string]any{"gender": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Failed to list predictions")
}

func TestHandleGetStatistics(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/statistics", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"statistics": map[string]any{
				"total": 3, "high_risk": 2, "low_risk": 1,
				"by_gender":   map[string]int{"female": 1, "male": 2},
				"by_source":   map[string]int{"remote": 1, "heuristic": 2},
				"average_age": 48.3, "average_bmi": 25.7, "high_risk_rate": 66.7,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetStatistics(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Total predictions: 3")
	assert.Contains(t, text, "High risk: 2 (66.7%)")
	assert.Contains(t, text, "Female: 1, Male: 2")
	assert.Contains(t, text, "Average age: 48.3")
	assert.Contains(t, text, "Average BMI: 25.7")
	assert.Contains(t, text, "From ML model: 1, from heuristic: 2")
}

func TestHandleGetStatistics_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "statistics": map[string]any{"total": 0}})
	}))
	defer cleanup()

	result, err := h.HandleGetStatistics(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No predictions recorded yet.", resultText(t, result))
}

func TestHandleCheckModelHealth_Reachable(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ml-health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"status":         "reachable",
			"ml_service_url": "http://ml:5000",
			"ml_service":     map[string]any{"status": "healthy"},
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckModelHealth(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "ML service: reachable")
	assert.Contains(t, text, "URL: http://ml:5000")
	assert.Contains(t, text, `"status": "healthy"`)
	assert.NotContains(t, text, "fallback heuristic")
}

func TestHandleCheckModelHealth_Unreachable(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":        false,
			"status":         "unreachable",
			"ml_service_url": "http://ml:5000",
			"error":          "dial tcp: connection refused",
			"class":          "bad_status",
			"status_code":    500,
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckModelHealth(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "ML service: unreachable")
	assert.Contains(t, text, "Failure: bad_status (HTTP 500)")
	assert.Contains(t, text, "fallback heuristic")
}

func TestHandleCheckModelHealth_GatewayDown(t *testing.T) {
	h := NewHandlers(NewGatewayClient(Config{APIURL: "http://127.0.0.1:1"}))
	result, err := h.HandleCheckModelHealth(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Failed to check model health")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"})
	require.NotNil(t, s)
}

func TestFormatJSON_Invalid(t *testing.T) {
	assert.Equal(t, "not json", formatJSON(json.RawMessage("not json")))
}
