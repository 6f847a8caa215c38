package patient

import (
	"errors"

	"github.com/mbd888/cardiorisk/internal/validation"
)

const (
	integerMessage = "must be an integer"
	genderMessage  = "must be 1 (female) or 2 (male)"
	levelMessage   = "must be 1, 2 or 3"
	flagMessage    = "must be 0 or 1"
)

// Parse validates an untyped request body and returns the typed metrics.
// Every violated field is reported, in declaration order.
func Parse(raw map[string]any) (Metrics, error) {
	var (
		m    Metrics
		errs validation.Errors
	)

	ranged := func(field string, min, max int, dst *int) {
		v, ok := raw[field]
		if !ok || v == nil {
			errs = append(errs, validation.Missing(field))
			return
		}
		n, err := validation.ParseInteger(v)
		switch {
		case errors.Is(err, validation.ErrIntTooLarge):
			errs = append(errs, validation.OutOfRange(field, min, max))
			return
		case err != nil:
			errs = append(errs, validation.Invalid(field, integerMessage))
			return
		}
		if n < min || n > max {
			errs = append(errs, validation.OutOfRange(field, min, max))
			return
		}
		*dst = n
	}

	enum := func(field, message string, allowed func(int) bool, dst func(int)) {
		v, ok := raw[field]
		if !ok || v == nil {
			errs = append(errs, validation.Missing(field))
			return
		}
		n, ok := validation.Integer(v)
		if !ok || !allowed(n) {
			errs = append(errs, validation.Invalid(field, message))
			return
		}
		dst(n)
	}

	flag := func(field string, dst *bool) {
		v, ok := raw[field]
		if !ok || v == nil {
			errs = append(errs, validation.Missing(field))
			return
		}
		b, ok := validation.Flag(v)
		if !ok {
			errs = append(errs, validation.Invalid(field, flagMessage))
			return
		}
		*dst = b
	}

	ranged("age", MinAge, MaxAge, &m.Age)
	enum("gender", genderMessage,
		func(n int) bool { return n == int(GenderFemale) || n == int(GenderMale) },
		func(n int) { m.Gender = Gender(n) })
	ranged("height", MinHeight, MaxHeight, &m.HeightCm)
	ranged("weight", MinWeight, MaxWeight, &m.WeightKg)
	ranged("ap_hi", MinSystolic, MaxSystolic, &m.SystolicBP)
	ranged("ap_lo", MinDiastolic, MaxDiastolic, &m.DiastolicBP)
	enum("cholesterol", levelMessage, validLevel, func(n int) { m.Cholesterol = Level(n) })
	enum("gluc", levelMessage, validLevel, func(n int) { m.Glucose = Level(n) })
	flag("smoke", &m.Smoker)
	flag("alco", &m.AlcoholUse)
	flag("active", &m.PhysicallyActive)

	if len(errs) > 0 {
		return Metrics{}, errs
	}
	return m, nil
}
