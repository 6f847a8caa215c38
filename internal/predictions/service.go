package predictions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/cardiorisk/internal/idgen"
	"github.com/mbd888/cardiorisk/internal/logging"
	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
	"github.com/mbd888/cardiorisk/internal/traces"
)

// Decider produces a risk decision. *risk.Pipeline implements it.
type Decider interface {
	Decide(ctx context.Context, m patient.Metrics) risk.Result
}

// Listener is told about every record that was saved.
type Listener interface {
	RecordSaved(ctx context.Context, rec *Record)
}

// Outcome is the result of one prediction request.
type Outcome struct {
	Result risk.Result
	Record *Record
	Saved  bool
	// SaveErr is set when the prediction could not be persisted.
	SaveErr error
}

// Service runs prediction requests end to end.
type Service struct {
	decider   Decider
	store     Store
	listeners []Listener
	logger    *slog.Logger
}

// NewService creates a prediction service.
func NewService(decider Decider, store Store, logger *slog.Logger, listeners ...Listener) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{decider: decider, store: store, listeners: listeners, logger: logger}
}

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// Predict decides risk for m and stores the record. A failed save does not
// fail the call; it is reported through Outcome.Saved. An error is only
// returned when the decision itself is unusable.
func (s *Service) Predict(ctx context.Context, m patient.Metrics, userAgent string) (*Outcome, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("predict: unvalidated metrics: %w", err)
	}

	sessionID := idgen.SessionID()
	ctx = logging.WithSessionID(ctx, sessionID)
	ctx, span := traces.StartSpan(ctx, "predictions.Predict", traces.SessionID(sessionID))
	defer span.End()

	result := s.decider.Decide(ctx, m)
	if result.Risk != risk.Low && result.Risk != risk.High {
		return nil, fmt.Errorf("%w: risk %d", ErrInvalidResult, result.Risk)
	}

	out := &Outcome{Result: result}
	rec := NewRecord(sessionID, m, result, userAgent)

	stored, err := s.store.Save(ctx, rec)
	if err != nil {
		savesTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("failed to save prediction",
			"source", result.Source, "error", err)
		out.Record = rec
		out.SaveErr = err
		return out, nil
	}

	savesTotal.WithLabelValues("ok").Inc()
	out.Record = stored
	out.Saved = true

	for _, l := range s.listeners {
		l.RecordSaved(ctx, stored)
	}

	s.logger.Info("prediction stored",
		"session_id", sessionID,
		"risk", result.Risk,
		"confidence", result.Confidence,
		"source", result.Source,
	)
	return out, nil
}
