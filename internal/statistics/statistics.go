// Package statistics summarizes stored predictions.
package statistics

import (
	"math"

	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/predictions"
	"github.com/mbd888/cardiorisk/internal/risk"
)

// Statistics is the aggregate view of every stored prediction.
type Statistics struct {
	Total        int          `json:"total"`
	HighRisk     int          `json:"high_risk"`
	LowRisk      int          `json:"low_risk"`
	ByGender     GenderCounts `json:"by_gender"`
	BySource     SourceCounts `json:"by_source"`
	AverageAge   float64      `json:"average_age"`
	AverageBMI   float64      `json:"average_bmi"`
	HighRiskRate float64      `json:"high_risk_rate"`
}

type GenderCounts struct {
	Female int `json:"female"`
	Male   int `json:"male"`
}

type SourceCounts struct {
	Remote    int `json:"remote"`
	Heuristic int `json:"heuristic"`
}

// Compute aggregates summaries. Records without a BMI are left out of the
// BMI average entirely, numerator and denominator both. Averages and the
// high-risk rate (a percentage) are rounded to one decimal.
func Compute(sums []predictions.Summary) Statistics {
	var (
		s              Statistics
		ageSum, bmiSum float64
		bmiCount       int
	)

	for _, sum := range sums {
		s.Total++
		if sum.Risk == risk.High {
			s.HighRisk++
		} else {
			s.LowRisk++
		}

		switch sum.Gender {
		case patient.GenderFemale:
			s.ByGender.Female++
		case patient.GenderMale:
			s.ByGender.Male++
		}

		switch sum.Source {
		case risk.SourceRemote:
			s.BySource.Remote++
		case risk.SourceHeuristic:
			s.BySource.Heuristic++
		}

		ageSum += float64(sum.Age)
		if sum.BMI != nil {
			bmiSum += *sum.BMI
			bmiCount++
		}
	}

	if s.Total > 0 {
		s.AverageAge = round1(ageSum / float64(s.Total))
		s.HighRiskRate = round1(float64(s.HighRisk) * 100 / float64(s.Total))
	}
	if bmiCount > 0 {
		s.AverageBMI = round1(bmiSum / float64(bmiCount))
	}
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
