package risk

import "github.com/mbd888/cardiorisk/internal/patient"

const (
	minConfidence = 10
	maxConfidence = 95

	// HighRiskThreshold is the heuristic confidence at which risk flips to high.
	HighRiskThreshold = 65
)

// Estimate scores m with fixed-threshold contributions. It is pure: the
// same metrics always produce the same result. BMI thresholds apply to the
// exact BMI; the result reports it rounded to one decimal.
func Estimate(m patient.Metrics) Result {
	score := ageScore(m.Age) +
		genderScore(m.Gender) +
		bmiScore(m.BMI()) +
		systolicScore(m.SystolicBP) +
		diastolicScore(m.DiastolicBP) +
		levelScore(m.Cholesterol, 25, 15) +
		levelScore(m.Glucose, 20, 10)

	if m.Smoker {
		score += 15
	}
	if m.AlcoholUse {
		score += 5
	}
	if !m.PhysicallyActive {
		score += 10
	}

	confidence := clamp(score, minConfidence, maxConfidence)
	risk := Low
	if confidence >= HighRiskThreshold {
		risk = High
	}

	return Result{
		Risk:        risk,
		Confidence:  confidence,
		Probability: float64(confidence) / 100,
		RiskLabel:   Label(risk),
		BMI:         m.RoundedBMI(),
		Source:      SourceHeuristic,
	}
}

func ageScore(age int) int {
	switch {
	case age > 55:
		return 25
	case age > 45:
		return 15
	default:
		return 5
	}
}

func genderScore(g patient.Gender) int {
	if g == patient.GenderMale {
		return 10
	}
	return 5
}

func bmiScore(bmi float64) int {
	switch {
	case bmi > 30:
		return 20
	case bmi > 25:
		return 10
	default:
		return 0
	}
}

func systolicScore(bp int) int {
	switch {
	case bp > 140:
		return 25
	case bp > 120:
		return 15
	default:
		return 5
	}
}

func diastolicScore(bp int) int {
	switch {
	case bp > 90:
		return 20
	case bp > 80:
		return 10
	default:
		return 5
	}
}

func levelScore(l patient.Level, wellAbove, above int) int {
	switch l {
	case patient.LevelWellAboveNormal:
		return wellAbove
	case patient.LevelAboveNormal:
		return above
	default:
		return 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
