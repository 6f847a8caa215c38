// Package patient defines the health metrics accepted by the gateway and
// the validator that turns an untyped request body into them.
package patient

import (
	"math"
	"strconv"

	"github.com/mbd888/cardiorisk/internal/validation"
)

// Gender uses the caller-side encoding: 1 = female, 2 = male.
type Gender int

const (
	GenderFemale Gender = 1
	GenderMale   Gender = 2
)

// String returns the human-readable gender.
func (g Gender) String() string {
	switch g {
	case GenderFemale:
		return "Female"
	case GenderMale:
		return "Male"
	default:
		return "Unknown"
	}
}

// Level is a three-step lab reading (cholesterol, glucose).
type Level int

const (
	LevelNormal          Level = 1
	LevelAboveNormal     Level = 2
	LevelWellAboveNormal Level = 3
)

// String returns the human-readable level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "Normal"
	case LevelAboveNormal:
		return "Above Normal"
	case LevelWellAboveNormal:
		return "Well Above Normal"
	default:
		return "Unknown"
	}
}

// Field domains (inclusive).
const (
	MinAge, MaxAge             = 1, 120
	MinHeight, MaxHeight       = 100, 250
	MinWeight, MaxWeight       = 30, 200
	MinSystolic, MaxSystolic   = 80, 250
	MinDiastolic, MaxDiastolic = 40, 150
)

// Metrics is a validated patient record. JSON names follow the
// cardiovascular dataset convention used by the remote model.
type Metrics struct {
	Age              int    `json:"age"`
	Gender           Gender `json:"gender"`
	HeightCm         int    `json:"height"`
	WeightKg         int    `json:"weight"`
	SystolicBP       int    `json:"ap_hi"`
	DiastolicBP      int    `json:"ap_lo"`
	Cholesterol      Level  `json:"cholesterol"`
	Glucose          Level  `json:"gluc"`
	Smoker           bool   `json:"smoke"`
	AlcoholUse       bool   `json:"alco"`
	PhysicallyActive bool   `json:"active"`
}

// BMI returns weight / (height in metres)^2, unrounded.
func (m Metrics) BMI() float64 {
	h := float64(m.HeightCm) / 100
	if h <= 0 {
		return 0
	}
	return float64(m.WeightKg) / (h * h)
}

// RoundedBMI returns BMI rounded to one decimal place.
func (m Metrics) RoundedBMI() float64 {
	return Round1(m.BMI())
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Validate re-checks the domain of an already typed value.
func (m Metrics) Validate() error {
	var errs validation.Errors
	checkRange := func(field string, v, min, max int) {
		if v < min || v > max {
			errs = append(errs, validation.OutOfRange(field, min, max))
		}
	}

	checkRange("age", m.Age, MinAge, MaxAge)
	if m.Gender != GenderFemale && m.Gender != GenderMale {
		errs = append(errs, validation.Invalid("gender", genderMessage))
	}
	checkRange("height", m.HeightCm, MinHeight, MaxHeight)
	checkRange("weight", m.WeightKg, MinWeight, MaxWeight)
	checkRange("ap_hi", m.SystolicBP, MinSystolic, MaxSystolic)
	checkRange("ap_lo", m.DiastolicBP, MinDiastolic, MaxDiastolic)
	if !validLevel(int(m.Cholesterol)) {
		errs = append(errs, validation.Invalid("cholesterol", levelMessage))
	}
	if !validLevel(int(m.Glucose)) {
		errs = append(errs, validation.Invalid("gluc", levelMessage))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validLevel(v int) bool {
	return v >= int(LevelNormal) && v <= int(LevelWellAboveNormal)
}

// Profile is the human-readable echo of the metrics returned to callers.
type Profile struct {
	Age              int     `json:"age"`
	Gender           string  `json:"gender"`
	Height           string  `json:"height"`
	Weight           string  `json:"weight"`
	BMI              float64 `json:"bmi"`
	BloodPressure    string  `json:"blood_pressure"`
	Cholesterol      string  `json:"cholesterol"`
	Glucose          string  `json:"glucose"`
	Smoker           string  `json:"smoker"`
	Alcohol          string  `json:"alcohol"`
	PhysicallyActive string  `json:"physically_active"`
}

// Describe renders the metrics for display. bmi is the value reported with
// the prediction so both halves of a response agree.
func (m Metrics) Describe(bmi float64) Profile {
	return Profile{
		Age:              m.Age,
		Gender:           m.Gender.String(),
		Height:           strconv.Itoa(m.HeightCm) + " cm",
		Weight:           strconv.Itoa(m.WeightKg) + " kg",
		BMI:              bmi,
		BloodPressure:    strconv.Itoa(m.SystolicBP) + "/" + strconv.Itoa(m.DiastolicBP) + " mmHg",
		Cholesterol:      m.Cholesterol.String(),
		Glucose:          m.Glucose.String(),
		Smoker:           yesNo(m.Smoker),
		Alcohol:          yesNo(m.AlcoholUse),
		PhysicallyActive: yesNo(m.PhysicallyActive),
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
