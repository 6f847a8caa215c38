// Package server assembles the gateway: storage, the model client, the
// risk pipeline, HTTP routes and their middleware.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/cardiorisk/internal/circuitbreaker"
	"github.com/mbd888/cardiorisk/internal/config"
	"github.com/mbd888/cardiorisk/internal/health"
	"github.com/mbd888/cardiorisk/internal/idgen"
	"github.com/mbd888/cardiorisk/internal/logging"
	"github.com/mbd888/cardiorisk/internal/metrics"
	"github.com/mbd888/cardiorisk/internal/mlservice"
	"github.com/mbd888/cardiorisk/internal/predictions"
	"github.com/mbd888/cardiorisk/internal/ratelimit"
	"github.com/mbd888/cardiorisk/internal/realtime"
	"github.com/mbd888/cardiorisk/internal/risk"
	"github.com/mbd888/cardiorisk/internal/security"
	"github.com/mbd888/cardiorisk/internal/statistics"
	"github.com/mbd888/cardiorisk/internal/traces"
	"github.com/mbd888/cardiorisk/internal/validation"
)

// Version is reported by the info and health endpoints.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil if the statistics cache is off
	store        predictions.Store
	ml           *mlservice.Client // nil if no model service is configured
	predictions  *predictions.Service
	stats        *statistics.Aggregator
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTracing  func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drain        time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore injects a prediction store instead of the configured one.
func WithStore(store predictions.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithRedis injects a Redis client for the statistics cache.
func WithRedis(client *redis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithShutdownDrain sets how long Shutdown waits for load balancers to
// stop routing traffic before closing listeners.
func WithShutdownDrain(d time.Duration) Option {
	return func(s *Server) {
		s.drain = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:   cfg,
		drain: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	stopTracing, err := traces.Init(ctx, traces.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     Version,
		Environment: cfg.Env,
		SampleRatio: cfg.OTLPSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing, continuing without it", "error", err)
		stopTracing = func(context.Context) error { return nil }
	}
	s.stopTracing = stopTracing

	if err := s.setupStore(ctx); err != nil {
		return nil, err
	}
	s.setupCache(ctx)

	// Model service (optional: without it every decision is heuristic)
	var remote risk.Estimator
	if cfg.MLServiceURL != "" {
		mlOpts := []mlservice.Option{
			mlservice.WithHealthTimeout(cfg.MLHealthTimeout),
			mlservice.WithLogger(s.logger),
		}
		if cfg.MLBreakerThreshold > 0 {
			breaker := circuitbreaker.New("ml-service", cfg.MLBreakerThreshold, cfg.MLBreakerCooldown,
				circuitbreaker.WithListener(s.onModelCircuit))
			mlOpts = append(mlOpts, mlservice.WithBreaker(breaker))
			s.logger.Info("ml service circuit breaker enabled",
				"threshold", cfg.MLBreakerThreshold, "cooldown", cfg.MLBreakerCooldown)
		}
		s.ml = mlservice.New(cfg.MLServiceURL, cfg.MLServiceTimeout, mlOpts...)
		remote = s.ml
		s.logger.Info("ml service configured", "url", cfg.MLServiceURL, "timeout", cfg.MLServiceTimeout)
	} else {
		s.logger.Warn("no ML_SERVICE_URL set, every prediction will use the heuristic")
	}

	var aggOpts []statistics.Option
	if s.redis != nil {
		aggOpts = append(aggOpts, statistics.WithCache(s.redis, cfg.StatsCacheTTL))
	}
	s.stats = statistics.NewAggregator(s.store, s.logger, aggOpts...)

	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)

	s.predictions = predictions.NewService(
		risk.NewPipeline(remote, s.logger),
		s.store,
		s.logger,
		s.stats,
		s.realtimeHub,
	)

	s.setupHealth()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.rateLimiter = ratelimit.New(ratelimit.ForRPM(cfg.RateLimitRPM))
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// setupStore picks Postgres when DATABASE_URL is set, otherwise memory.
func (s *Server) setupStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		s.store = predictions.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store := predictions.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate predictions store", "error", err)
	}
	s.db = db
	s.store = store
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// setupCache connects the statistics cache. The cache is optional, so a
// bad URL or unreachable Redis only disables it.
func (s *Server) setupCache(ctx context.Context) {
	if s.redis != nil || s.cfg.RedisURL == "" {
		return
	}
	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		s.logger.Warn("invalid REDIS_URL, statistics cache disabled", "error", err)
		return
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn("redis unreachable, statistics cache disabled", "error", err)
		_ = client.Close()
		return
	}
	s.redis = client
	s.logger.Info("statistics cache enabled", "ttl", s.cfg.StatsCacheTTL)
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry()
	// No check may take longer than the model's own health call.
	s.health.SetTimeout(s.cfg.MLHealthTimeout)

	if p, ok := s.store.(health.Pinger); ok {
		s.health.Register("database", health.FromPinger("database", p))
	} else {
		s.health.Register("database", func(context.Context) health.Status {
			return health.Status{Healthy: true, Detail: "in-memory"}
		})
	}
	if s.redis != nil {
		s.health.RegisterOptional("cache", health.FromPinger("cache", s.stats))
	}
	if s.ml != nil {
		// The heuristic covers for the model, so it never fails the gateway.
		s.health.RegisterOptional("ml_service", health.FromPinger("ml_service", s.ml))
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORS(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream ID (load balancer, etc.) when present
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.RequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	api.Use(s.rateLimiter.Middleware())
	api.GET("/health", s.healthHandler)

	predictions.NewHandler(s.predictions).RegisterRoutes(api)
	statistics.NewHandler(s.stats).RegisterRoutes(api)
	if s.ml != nil {
		mlservice.NewHandler(s.ml).RegisterRoutes(api)
	} else {
		api.GET("/ml-health", s.mlDisabledHandler)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "not_found",
			"message": "Route not found",
		})
	})
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Success   bool            `json:"success"`
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Storage   string          `json:"storage"`
	Checks    []health.Status `json:"checks"`
	Realtime  map[string]any  `json:"realtime"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}

	c.JSON(code, HealthResponse{
		Success:   healthy,
		Status:    status,
		Version:   Version,
		Storage:   storage,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) mlDisabledHandler(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"success":        false,
		"status":         "unreachable",
		"ml_service_url": "",
		"error":          "no model service configured",
	})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "cardiorisk",
		"description": "Cardiovascular risk prediction gateway",
		"version":     Version,
		"endpoints": gin.H{
			"predict":     "POST /api/predict",
			"predictions": "GET /api/predictions",
			"statistics":  "GET /api/statistics",
			"ml_health":   "GET /api/ml-health",
			"health":      "GET /api/health",
			"metrics":     "GET /metrics",
			"realtime":    "GET /ws",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// A predict call may wait out the full model timeout.
		WriteTimeout: s.cfg.MLServiceTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	if s.ml != nil && s.cfg.StartupProbeAttempts > 0 {
		go s.probeModel(runCtx)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// probeModel reports whether the model service answers at startup. Request
// handling never waits on it.
func (s *Server) probeModel(ctx context.Context) {
	err := mlservice.Probe(ctx, s.ml, mlservice.ProbeConfig{
		Attempts: s.cfg.StartupProbeAttempts,
		Delay:    s.cfg.StartupProbeDelay,
	}, s.logger)
	if errors.Is(err, context.Canceled) {
		return
	}

	metrics.SetModelReachable(err == nil)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.realtimeHub.BroadcastModelStatus(err == nil, detail)
}

// onModelCircuit publishes model reachability when the breaker opens or
// closes. The half-open trial is not announced.
func (s *Server) onModelCircuit(tr circuitbreaker.Transition) {
	var reachable bool
	switch tr.To {
	case circuitbreaker.StateOpen:
		s.logger.Warn("ml service circuit opened, predictions fall back to the heuristic",
			"failures", tr.Failures, "cooldown", s.cfg.MLBreakerCooldown)
	case circuitbreaker.StateClosed:
		reachable = true
		s.logger.Info("ml service circuit closed")
	default:
		return
	}

	metrics.SetModelReachable(reachable)
	if s.realtimeHub == nil {
		return
	}
	detail := "circuit " + tr.To.String()
	s.realtimeHub.BroadcastModelStatus(reachable, detail)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drain)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	s.rateLimiter.Stop()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	if err := s.stopTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
