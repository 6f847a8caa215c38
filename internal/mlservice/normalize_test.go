package mlservice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
)

func testMetrics() patient.Metrics {
	return patient.Metrics{
		Age: 60, Gender: patient.GenderMale, HeightCm: 170, WeightKg: 90,
		SystolicBP: 150, DiastolicBP: 95,
		Cholesterol: patient.LevelWellAboveNormal, Glucose: patient.LevelWellAboveNormal,
		Smoker: true,
	}
}

func TestNormalize_NestedData(t *testing.T) {
	body := map[string]any{
		"success": true,
		"data": map[string]any{
			"prediction":     float64(1),
			"confidence":     0.83,
			"probability":    0.79,
			"risk_level":     "high",
			"bmi":            31.14,
			"bmi_category":   "Obese",
			"interpretation": "Elevated risk",
			"recommendation": "See a cardiologist",
		},
	}

	r, err := Normalize(body, testMetrics())
	require.NoError(t, err)

	assert.Equal(t, risk.High, r.Risk)
	assert.Equal(t, 83, r.Confidence)
	assert.Equal(t, 0.79, r.Probability)
	assert.Equal(t, "High Risk", r.RiskLabel)
	assert.Equal(t, 31.1, r.BMI)
	assert.Equal(t, risk.SourceRemote, r.Source)
	require.NotNil(t, r.Insights)
	assert.Equal(t, "HIGH", r.Insights.RiskLevel)
	assert.Equal(t, 0.83, r.Insights.ModelConfidence)
	assert.Equal(t, "Obese", r.Insights.BMICategory)
	assert.Equal(t, "Elevated risk", r.Insights.Interpretation)
	assert.Equal(t, "See a cardiologist", r.Insights.Recommendation)
}

func TestNormalize_TopLevelDefaults(t *testing.T) {
	r, err := Normalize(map[string]any{"prediction": float64(0)}, testMetrics())
	require.NoError(t, err)

	assert.Equal(t, risk.Low, r.Risk)
	assert.Equal(t, 50, r.Confidence)
	assert.Equal(t, 0.5, r.Probability, "probability defaults to confidence")
	assert.Equal(t, "LOW", r.Insights.RiskLevel)
	assert.Equal(t, 31.1, r.BMI, "bmi computed from metrics")
}

func TestNormalize_PredictionEncodings(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"number one", float64(1), risk.High},
		{"bool true", true, risk.High},
		{"bool false", false, risk.Low},
		{"string one", "1", risk.High},
		{"string zero", "0", risk.Low},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Normalize(map[string]any{"prediction": tt.value}, testMetrics())
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Risk)
		})
	}
}

func TestNormalize_NoPrediction(t *testing.T) {
	tests := map[string]map[string]any{
		"success false":      {"success": false, "error": "model not loaded"},
		"missing":            {"success": true},
		"out of range":       {"prediction": float64(2)},
		"non numeric":        {"prediction": "yes"},
		"data not an object": {"data": "oops"},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(body, testMetrics())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNoPrediction))
		})
	}

	_, err := Normalize(map[string]any{"success": false, "error": "model not loaded"}, testMetrics())
	assert.Contains(t, err.Error(), "model not loaded")

	_, err = Normalize(nil, testMetrics())
	assert.ErrorIs(t, err, ErrNoPrediction)
}

func TestNormalize_SuccessFalseWithPrediction(t *testing.T) {
	r, err := Normalize(map[string]any{"success": false, "prediction": float64(1)}, testMetrics())
	require.NoError(t, err)
	assert.Equal(t, risk.High, r.Risk)
}

func TestNormalize_ConfidenceScales(t *testing.T) {
	tests := []struct {
		value any
		want  int
	}{
		{0.72, 72},
		{float64(72), 72},
		{"0.4", 40},
		{float64(1), 100},
		{float64(250), 100},
		{-0.3, 0},
		{"n/a", 50},
	}
	for _, tt := range tests {
		r, err := Normalize(map[string]any{"prediction": float64(1), "confidence": tt.value}, testMetrics())
		require.NoError(t, err)
		assert.Equal(t, tt.want, r.Confidence, "confidence %v", tt.value)
		assert.GreaterOrEqual(t, r.Probability, 0.0)
		assert.LessOrEqual(t, r.Probability, 1.0)
	}
}

func TestNormalize_RiskLevelNotString(t *testing.T) {
	for _, v := range []any{float64(1), true, map[string]any{"level": "x"}, "  "} {
		r, err := Normalize(map[string]any{"prediction": float64(1), "risk_level": v}, testMetrics())
		require.NoError(t, err)
		assert.Equal(t, "HIGH", r.Insights.RiskLevel, "risk_level %v", v)
	}

	r, err := Normalize(map[string]any{"prediction": float64(0), "risk_level": float64(0)}, testMetrics())
	require.NoError(t, err)
	assert.Equal(t, "LOW", r.Insights.RiskLevel)
}

func TestNormalize_BMI(t *testing.T) {
	r, err := Normalize(map[string]any{"prediction": float64(0), "bmi": "27.46"}, testMetrics())
	require.NoError(t, err)
	assert.Equal(t, 27.5, r.BMI)

	r, err = Normalize(map[string]any{"prediction": float64(0), "bmi": nil}, testMetrics())
	require.NoError(t, err)
	assert.Equal(t, 31.1, r.BMI)

	r, err = Normalize(map[string]any{"prediction": float64(0), "bmi": float64(0)}, testMetrics())
	require.NoError(t, err)
	assert.Equal(t, 31.1, r.BMI)
}
