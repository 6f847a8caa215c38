package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/traces"
)

// ErrInvalidRemoteResult is reported when the remote model answers with a
// result that cannot be served.
var ErrInvalidRemoteResult = errors.New("risk: invalid remote result")

// classified is implemented by remote errors that know their failure class.
type classified interface {
	ErrorClass() string
}

// Pipeline decides risk for one patient at a time. It holds no per-request
// state and is safe for concurrent use.
type Pipeline struct {
	remote Estimator
	logger *slog.Logger
}

// NewPipeline creates a pipeline. A nil remote means every decision is
// heuristic.
func NewPipeline(remote Estimator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{remote: remote, logger: logger}
}

// Decide makes exactly one remote attempt and falls back to the heuristic
// on any failure. It never returns an error.
func (p *Pipeline) Decide(ctx context.Context, m patient.Metrics) Result {
	ctx, span := traces.StartSpan(ctx, "risk.Decide")
	defer span.End()

	start := time.Now()
	result, err := p.tryRemote(ctx, m)
	if err != nil {
		class := failureClass(err)
		p.logger.Warn("remote risk model unavailable, using heuristic",
			"class", class, "error", err)
		fallbacksTotal.WithLabelValues(class).Inc()
		span.SetAttributes(traces.ErrorClass(class))
		span.SetStatus(codes.Error, err.Error())

		result = Estimate(m)
	}

	decisionsTotal.WithLabelValues(string(result.Source)).Inc()
	decisionDuration.WithLabelValues(string(result.Source)).Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.Source(string(result.Source)), traces.Risk(result.Risk))
	return result
}

func (p *Pipeline) tryRemote(ctx context.Context, m patient.Metrics) (Result, error) {
	if p.remote == nil {
		return Result{}, errNoRemote
	}
	r, err := p.remote.Estimate(ctx, m)
	if err != nil {
		return Result{}, err
	}
	return sanitizeRemote(r, m)
}

var errNoRemote = errors.New("risk: no remote estimator configured")

// sanitizeRemote forces a remote answer into the result invariants.
func sanitizeRemote(r *Result, m patient.Metrics) (Result, error) {
	if r == nil {
		return Result{}, fmt.Errorf("%w: empty result", ErrInvalidRemoteResult)
	}
	if r.Risk != Low && r.Risk != High {
		return Result{}, fmt.Errorf("%w: risk %d", ErrInvalidRemoteResult, r.Risk)
	}

	out := *r
	out.Confidence = clamp(out.Confidence, 0, 100)
	if out.Probability < 0 {
		out.Probability = 0
	} else if out.Probability > 1 {
		out.Probability = 1
	}
	if out.BMI <= 0 {
		out.BMI = m.RoundedBMI()
	}
	out.RiskLabel = Label(out.Risk)
	out.Source = SourceRemote
	if out.Insights != nil {
		in := *out.Insights
		out.Insights = &in
	}
	return out, nil
}

func failureClass(err error) string {
	var c classified
	switch {
	case errors.As(err, &c):
		return c.ErrorClass()
	case errors.Is(err, errNoRemote):
		return "disabled"
	case errors.Is(err, ErrInvalidRemoteResult):
		return "invalid_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
