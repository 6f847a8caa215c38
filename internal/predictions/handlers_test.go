package predictions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/cardiorisk/internal/mlservice"
	"github.com/mbd888/cardiorisk/internal/risk"
)

const highRiskBody = `{"age":60,"gender":2,"height":170,"weight":90,"ap_hi":150,"ap_lo":95,
	"cholesterol":3,"gluc":3,"smoke":1,"alco":0,"active":0}`

const lowRiskBody = `{"age":30,"gender":1,"height":165,"weight":55,"ap_hi":110,"ap_lo":70,
	"cholesterol":1,"gluc":1,"smoke":0,"alco":0,"active":1}`

func setupRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api"))
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestHandler_PredictHeuristicHighRisk(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(NewService(heuristicOnly(), store, nil))

	w := doRequest(r, http.MethodPost, "/api/predict", highRiskBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["saved"])
	assert.Nil(t, body["ml_insights"])
	assert.NotEmpty(t, body["session_id"])
	assert.Contains(t, body["message"], "fallback heuristic")

	pred := body["prediction"].(map[string]any)
	assert.Equal(t, float64(1), pred["risk"])
	assert.Equal(t, float64(95), pred["confidence"])
	assert.Equal(t, 0.95, pred["probability"])
	assert.Equal(t, "High Risk", pred["risk_label"])
	assert.Equal(t, 31.1, pred["bmi"])
	assert.Equal(t, "heuristic", pred["source"])

	pd := body["patient_data"].(map[string]any)
	assert.Equal(t, "Male", pd["gender"])
	assert.Equal(t, "150/95 mmHg", pd["blood_pressure"])
	assert.Equal(t, "Yes", pd["smoker"])
	assert.Equal(t, 31.1, pd["bmi"])

	page, _, err := store.List(context.Background(), Filter{}, pageOne)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "handler-test", page[0].UserAgent)
}

func TestHandler_PredictLowRisk(t *testing.T) {
	r := setupRouter(NewService(heuristicOnly(), NewMemoryStore(), nil))

	w := doRequest(r, http.MethodPost, "/api/predict", lowRiskBody)
	require.Equal(t, http.StatusOK, w.Code)

	pred := decode(t, w)["prediction"].(map[string]any)
	assert.Equal(t, float64(0), pred["risk"])
	assert.Equal(t, float64(20), pred["confidence"])
	assert.Equal(t, "Low Risk", pred["risk_label"])
	assert.Equal(t, 20.2, pred["bmi"])
}

func TestHandler_PredictRemote(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"prediction":1,"confidence":0.81,
			"risk_level":"high","bmi_category":"Obese","recommendation":"Consult a physician"}}`))
	}))
	defer model.Close()

	client := mlservice.New(model.URL, time.Second)
	r := setupRouter(NewService(risk.NewPipeline(client, nil), NewMemoryStore(), nil))

	w := doRequest(r, http.MethodPost, "/api/predict", highRiskBody)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	pred := body["prediction"].(map[string]any)
	assert.Equal(t, "remote", pred["source"])
	assert.Equal(t, float64(81), pred["confidence"])
	assert.Equal(t, 31.1, pred["bmi"])

	insights := body["ml_insights"].(map[string]any)
	assert.Equal(t, "HIGH", insights["risk_level"])
	assert.Equal(t, "Obese", insights["bmi_category"])
	assert.Equal(t, "Prediction completed", body["message"])
}

func TestHandler_PredictRemoteDownFallsBack(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer model.Close()

	client := mlservice.New(model.URL, time.Second)
	r := setupRouter(NewService(risk.NewPipeline(client, nil), NewMemoryStore(), nil))

	w := doRequest(r, http.MethodPost, "/api/predict", highRiskBody)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "heuristic", body["prediction"].(map[string]any)["source"])
	assert.Nil(t, body["ml_insights"])
}

func TestHandler_PredictSaveFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("db down")}
	r := setupRouter(NewService(heuristicOnly(), store, nil))

	w := doRequest(r, http.MethodPost, "/api/predict", highRiskBody)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["saved"])
	assert.Contains(t, body["message"], "could not be saved")
	assert.NotNil(t, body["prediction"])
}

func TestHandler_PredictValidationFailure(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(NewService(heuristicOnly(), store, nil))

	w := doRequest(r, http.MethodPost, "/api/predict", `{"age":0,"gender":3,"height":170}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "validation_failed", body["error"])

	details := body["details"].([]any)
	// age, gender, weight, ap_hi, ap_lo, cholesterol, gluc, smoke, alco, active
	assert.Len(t, details, 10)
	first := details[0].(map[string]any)
	assert.Equal(t, "age", first["field"])
	assert.Equal(t, "out_of_range", first["code"])

	_, total, _ := store.List(context.Background(), Filter{}, pageOne)
	assert.Zero(t, total, "validation failures are not stored")
}

func TestHandler_PredictMalformedJSON(t *testing.T) {
	r := setupRouter(NewService(heuristicOnly(), NewMemoryStore(), nil))

	for _, body := range []string{`{"age":`, `[1,2,3]`, `"text"`} {
		w := doRequest(r, http.MethodPost, "/api/predict", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_request", decode(t, w)["error"], body)
	}
}

func TestHandler_PredictInternalError(t *testing.T) {
	r := setupRouter(NewService(fixedDecider{result: risk.Result{Risk: 5}}, NewMemoryStore(), nil))

	w := doRequest(r, http.MethodPost, "/api/predict", highRiskBody)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "internal_error", body["error"])
	assert.NotContains(t, body["message"], "risk 5")
}

func TestHandler_ListPredictionsPagination(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, 25)
	r := setupRouter(NewService(heuristicOnly(), store, nil))

	w := doRequest(r, http.MethodGet, "/api/predictions?page=2&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])

	data := body["data"].([]any)
	require.Len(t, data, 10)
	assert.Equal(t, float64(34), data[0].(map[string]any)["age"])
	assert.Equal(t, float64(25), data[9].(map[string]any)["age"])

	pg := body["pagination"].(map[string]any)
	assert.Equal(t, float64(2), pg["page"])
	assert.Equal(t, float64(10), pg["limit"])
	assert.Equal(t, float64(25), pg["total"])
	assert.Equal(t, float64(3), pg["totalPages"])
}

func TestHandler_ListPredictionsFilter(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, 10)
	r := setupRouter(NewService(heuristicOnly(), store, nil))

	w := doRequest(r, http.MethodGet, "/api/predictions?riskLevel=high&gender=male", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(5), body["pagination"].(map[string]any)["total"])

	w = doRequest(r, http.MethodGet, "/api/predictions?riskLevel=medium", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_filter", decode(t, w)["error"])
}

func TestHandler_ListPredictionsEmpty(t *testing.T) {
	r := setupRouter(NewService(heuristicOnly(), NewMemoryStore(), nil))

	w := doRequest(r, http.MethodGet, "/api/predictions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`"data":[]`)))
}

func TestHandler_ListPredictionsStoreError(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("db down")}
	r := setupRouter(NewService(heuristicOnly(), store, nil))

	w := doRequest(r, http.MethodGet, "/api/predictions", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
