package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/mbd888/cardiorisk/internal/predictions"
)

const (
	cacheKey        = "cardiorisk:statistics"
	DefaultCacheTTL = 30 * time.Second
)

// SummarySource supplies the records to aggregate.
type SummarySource interface {
	Summaries(ctx context.Context) ([]predictions.Summary, error)
}

// Aggregator computes statistics over the store, optionally caching the
// result in Redis. Concurrent cache misses share one store read.
type Aggregator struct {
	source SummarySource
	cache  redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger

	// generation is bumped by every invalidation so a compute that raced
	// a save does not leave its result in the cache.
	generation atomic.Uint64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache enables the Redis cache.
func WithCache(client redis.UniversalClient, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = client
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// NewAggregator creates an aggregator reading from source.
func NewAggregator(source SummarySource, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{source: source, ttl: DefaultCacheTTL, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compute returns current statistics. Cache failures are logged and
// bypassed; only a store failure is returned.
func (a *Aggregator) Compute(ctx context.Context) (*Statistics, error) {
	if st, ok := a.fromCache(ctx); ok {
		cacheRequests.WithLabelValues("hit").Inc()
		return st, nil
	}
	if a.cache != nil {
		cacheRequests.WithLabelValues("miss").Inc()
	}

	v, err, _ := a.group.Do(cacheKey, func() (any, error) {
		gen := a.generation.Load()
		sums, err := a.source.Summaries(ctx)
		if err != nil {
			return nil, err
		}
		st := Compute(sums)
		a.store(ctx, &st, gen)
		return &st, nil
	})
	if err != nil {
		return nil, err
	}

	st := *v.(*Statistics)
	return &st, nil
}

// Invalidate drops the cached statistics.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if a.cache == nil {
		return
	}
	a.generation.Add(1)
	if err := a.cache.Del(ctx, cacheKey).Err(); err != nil {
		a.logger.Warn("statistics cache invalidation failed", "error", err)
	}
}

// RecordSaved implements predictions.Listener.
func (a *Aggregator) RecordSaved(ctx context.Context, _ *predictions.Record) {
	a.Invalidate(ctx)
}

// Check implements health.Pinger for the cache.
func (a *Aggregator) Check(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Ping(ctx).Err()
}

func (a *Aggregator) fromCache(ctx context.Context) (*Statistics, bool) {
	if a.cache == nil {
		return nil, false
	}
	raw, err := a.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			a.logger.Warn("statistics cache read failed", "error", err)
		}
		return nil, false
	}
	var st Statistics
	if err := json.Unmarshal(raw, &st); err != nil {
		a.logger.Warn("statistics cache entry unreadable", "error", err)
		return nil, false
	}
	return &st, true
}

// store caches st unless an invalidation happened since gen was read. A
// save that lands between the check and the write is caught by the second
// check, which drops the entry again.
func (a *Aggregator) store(ctx context.Context, st *Statistics, gen uint64) {
	if a.cache == nil || a.generation.Load() != gen {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, cacheKey, raw, a.ttl).Err(); err != nil {
		a.logger.Warn("statistics cache write failed", "error", err)
		return
	}
	if a.generation.Load() != gen {
		if err := a.cache.Del(ctx, cacheKey).Err(); err != nil {
			a.logger.Warn("statistics cache invalidation failed", "error", err)
		}
	}
}
