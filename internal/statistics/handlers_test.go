package statistics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, src SummarySource) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := gin.New()
	NewHandler(NewAggregator(src, quietLogger())).RegisterRoutes(r.Group("/api"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	return w, body
}

func TestGetStatistics(t *testing.T) {
	w, body := serve(t, &countingSource{sums: sampleSummaries()})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["success"] != true {
		t.Errorf("expected success=true, got %v", body["success"])
	}
	st, ok := body["statistics"].(map[string]any)
	if !ok {
		t.Fatalf("statistics missing: %v", body)
	}
	if st["total"] != float64(3) {
		t.Errorf("total = %v", st["total"])
	}
	if st["high_risk_rate"] != 66.7 {
		t.Errorf("high_risk_rate = %v", st["high_risk_rate"])
	}
	gender := st["by_gender"].(map[string]any)
	if gender["female"] != float64(2) {
		t.Errorf("by_gender.female = %v", gender["female"])
	}
}

func TestGetStatistics_Empty(t *testing.T) {
	w, body := serve(t, &countingSource{})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	st := body["statistics"].(map[string]any)
	if st["total"] != float64(0) || st["average_bmi"] != float64(0) {
		t.Errorf("unexpected empty statistics %v", st)
	}
}

func TestGetStatistics_StoreError(t *testing.T) {
	w, body := serve(t, &countingSource{err: errors.New("db down")})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if body["error"] != "statistics_failed" {
		t.Errorf("error = %v", body["error"])
	}
	if body["success"] != false {
		t.Errorf("success = %v", body["success"])
	}
}
