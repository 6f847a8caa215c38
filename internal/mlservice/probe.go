package mlservice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/cardiorisk/internal/retry"
)

// HealthCaller is the part of Client the startup probe needs.
type HealthCaller interface {
	Health(ctx context.Context) (*HealthReport, error)
}

// ProbeConfig controls the startup readiness probe.
type ProbeConfig struct {
	Attempts int
	Delay    time.Duration
}

// Probe checks once at startup whether the model answers, retrying with a
// fixed delay while it cannot be reached. A model that answers with a
// non-2xx status is up but unhealthy and is not retried. Probe only logs;
// request handling never depends on it.
func Probe(ctx context.Context, c HealthCaller, cfg ProbeConfig, logger *slog.Logger) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}

	policy := retry.Policy{Attempts: cfg.Attempts, Delay: cfg.Delay, Backoff: retry.Fixed}
	err := policy.Run(ctx, func(attempt int) error {
		report, err := c.Health(ctx)
		if err != nil {
			logger.Warn("ml service not ready",
				"attempt", attempt, "max_attempts", cfg.Attempts, "error", err)
			var mlErr *Error
			if errors.As(err, &mlErr) && mlErr.Class == ClassBadStatus {
				return retry.Permanent(err)
			}
			return err
		}
		logger.Info("ml service reachable", "attempt", attempt, "status", report.StatusCode)
		return nil
	})
	if err != nil {
		logger.Warn("ml service unreachable at startup, predictions will use the heuristic until it recovers",
			"error", err)
	}
	return err
}
