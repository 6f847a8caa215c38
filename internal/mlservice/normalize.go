package mlservice

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
	"github.com/mbd888/cardiorisk/internal/validation"
)

const defaultConfidence = 0.5

// Normalize converts a decoded /api/predict response into a result. The
// service sometimes nests its fields under "data" and sometimes returns
// them at the top level; both are accepted.
func Normalize(body map[string]any, m patient.Metrics) (*risk.Result, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: empty body", ErrNoPrediction)
	}
	payload := body
	if data, ok := body["data"].(map[string]any); ok {
		payload = data
	}

	prediction, ok := validation.Flag(payload["prediction"])
	if !ok {
		if msg := failureMessage(body, payload); msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoPrediction, msg)
		}
		return nil, ErrNoPrediction
	}
	riskClass := risk.Low
	if prediction {
		riskClass = risk.High
	}

	confidence := defaultConfidence
	if v, ok := number(payload["confidence"]); ok {
		confidence = fraction(v)
	}

	probability := confidence
	if v, ok := number(payload["probability"]); ok {
		probability = fraction(v)
	}

	bmi := m.RoundedBMI()
	if v, ok := number(payload["bmi"]); ok && v > 0 {
		bmi = patient.Round1(v)
	}

	return &risk.Result{
		Risk:        riskClass,
		Confidence:  int(math.Round(confidence * 100)),
		Probability: probability,
		RiskLabel:   risk.Label(riskClass),
		BMI:         bmi,
		Source:      risk.SourceRemote,
		Insights: &risk.Insights{
			ModelConfidence: confidence,
			RiskLevel:       riskLevel(payload["risk_level"], riskClass),
			BMICategory:     str(payload["bmi_category"]),
			Interpretation:  str(payload["interpretation"]),
			Recommendation:  str(payload["recommendation"]),
		},
	}, nil
}

// riskLevel upper-cases a string level and derives one otherwise,
// including when the field is present with a non-string value.
func riskLevel(v any, riskClass int) string {
	if s, ok := v.(string); ok {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			return s
		}
	}
	if riskClass == risk.High {
		return "HIGH"
	}
	return "LOW"
}

// fraction maps a confidence or probability onto [0, 1]. Values in (1, 100]
// are percentages.
func fraction(v float64) float64 {
	if v > 1 && v <= 100 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func failureMessage(body, payload map[string]any) string {
	for _, src := range []map[string]any{payload, body} {
		for _, key := range []string{"error", "message"} {
			if s := str(src[key]); s != "" {
				return s
			}
		}
	}
	return ""
}
