// Package predictions stores cardiovascular risk predictions and serves
// them over HTTP.
//
// A prediction request is validated, decided by the risk pipeline and then
// persisted. Persistence is best effort: a failed save is logged and the
// caller still gets the prediction, flagged as not saved.
package predictions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/cardiorisk/internal/pagination"
	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
)

var (
	ErrInvalidFilter = errors.New("invalid filter")
	ErrInvalidResult = errors.New("invalid risk result")
)

// Record is one stored prediction. It is written once and never updated.
type Record struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`

	patient.Metrics

	Risk        int            `json:"risk"`
	Confidence  int            `json:"confidence"`
	Probability float64        `json:"probability"`
	RiskLabel   string         `json:"risk_label"`
	BMI         *float64       `json:"bmi"`
	Source      risk.Source    `json:"source"`
	Insights    *risk.Insights `json:"ml_insights,omitempty"`

	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the subset of a record the statistics need.
type Summary struct {
	Risk   int
	Gender patient.Gender
	Age    int
	BMI    *float64
	Source risk.Source
}

// Filter narrows a listing. Nil fields match everything.
type Filter struct {
	Risk   *int
	Gender *patient.Gender
}

// ParseFilter reads the riskLevel and gender query values. riskLevel
// accepts high, low, 1 or 0; gender accepts female, male, 1 or 2.
func ParseFilter(riskLevel, gender string) (Filter, error) {
	var f Filter

	switch strings.ToLower(strings.TrimSpace(riskLevel)) {
	case "":
	case "high", "1":
		v := risk.High
		f.Risk = &v
	case "low", "0":
		v := risk.Low
		f.Risk = &v
	default:
		return Filter{}, fmt.Errorf("%w: riskLevel must be high, low, 1 or 0", ErrInvalidFilter)
	}

	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "":
	case "female", "1":
		v := patient.GenderFemale
		f.Gender = &v
	case "male", "2":
		v := patient.GenderMale
		f.Gender = &v
	default:
		return Filter{}, fmt.Errorf("%w: gender must be female, male, 1 or 2", ErrInvalidFilter)
	}

	return f, nil
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r *Record) bool {
	if f.Risk != nil && r.Risk != *f.Risk {
		return false
	}
	if f.Gender != nil && r.Gender != *f.Gender {
		return false
	}
	return true
}

// Store persists prediction records.
type Store interface {
	// Save assigns ID and CreatedAt and returns the stored record.
	Save(ctx context.Context, rec *Record) (*Record, error)
	// List returns one page, newest first, and the total matching count.
	List(ctx context.Context, f Filter, p pagination.Params) ([]*Record, int, error)
	// Summaries returns the aggregation fields of every record.
	Summaries(ctx context.Context) ([]Summary, error)
}

// PersistError is a store failure.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string { return "predictions: " + e.Op + ": " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// NewRecord builds an unsaved record from a decision.
func NewRecord(sessionID string, m patient.Metrics, r risk.Result, userAgent string) *Record {
	rec := &Record{
		SessionID:   sessionID,
		Metrics:     m,
		Risk:        r.Risk,
		Confidence:  r.Confidence,
		Probability: r.Probability,
		RiskLabel:   r.RiskLabel,
		Source:      r.Source,
		Insights:    r.Insights,
		UserAgent:   userAgent,
	}
	if r.BMI > 0 {
		bmi := r.BMI
		rec.BMI = &bmi
	}
	return rec
}

// Summary returns the aggregation view of r.
func (r *Record) Summary() Summary {
	return Summary{Risk: r.Risk, Gender: r.Gender, Age: r.Age, BMI: r.BMI, Source: r.Source}
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.BMI != nil {
		v := *r.BMI
		c.BMI = &v
	}
	if r.Insights != nil {
		in := *r.Insights
		c.Insights = &in
	}
	return &c
}
