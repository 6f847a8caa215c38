// Package risk produces cardiovascular-risk decisions.
//
// Every decision first asks a remote model. When the model is unavailable
// or returns something unusable, a deterministic heuristic takes over, so
// a valid patient record always gets an answer. The Source field tells the
// caller which of the two produced it.
package risk

import (
	"context"

	"github.com/mbd888/cardiorisk/internal/patient"
)

// Source records which estimator produced a result.
type Source string

const (
	SourceRemote    Source = "remote"
	SourceHeuristic Source = "heuristic"
)

// Risk classes.
const (
	Low  = 0
	High = 1
)

// Label returns the human-readable label for a risk class.
func Label(risk int) string {
	if risk == High {
		return "High Risk"
	}
	return "Low Risk"
}

// Result is a single risk decision. It is never mutated after Decide
// returns it.
type Result struct {
	Risk        int       `json:"risk"`
	Confidence  int       `json:"confidence"`
	Probability float64   `json:"probability"`
	RiskLabel   string    `json:"risk_label"`
	BMI         float64   `json:"bmi"`
	Source      Source    `json:"source"`
	Insights    *Insights `json:"-"`
}

// Insights carries the remote model's diagnostics. Only remote results
// have them.
type Insights struct {
	ModelConfidence float64 `json:"model_confidence"`
	RiskLevel       string  `json:"risk_level"`
	BMICategory     string  `json:"bmi_category,omitempty"`
	Interpretation  string  `json:"interpretation,omitempty"`
	Recommendation  string  `json:"recommendation,omitempty"`
}

// Estimator is a remote risk model.
type Estimator interface {
	Estimate(ctx context.Context, m patient.Metrics) (*Result, error)
}
