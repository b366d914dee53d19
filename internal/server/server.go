// Package server wires the wellness pipeline together and serves the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/safedrive/internal/alerts"
	"github.com/mbd888/safedrive/internal/config"
	"github.com/mbd888/safedrive/internal/health"
	"github.com/mbd888/safedrive/internal/ledger"
	"github.com/mbd888/safedrive/internal/logging"
	"github.com/mbd888/safedrive/internal/metrics"
	"github.com/mbd888/safedrive/internal/ratelimit"
	"github.com/mbd888/safedrive/internal/realtime"
	"github.com/mbd888/safedrive/internal/safestop"
	"github.com/mbd888/safedrive/internal/security"
	"github.com/mbd888/safedrive/internal/steering"
	"github.com/mbd888/safedrive/internal/telemetry"
	"github.com/mbd888/safedrive/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and all pipeline components.
type Server struct {
	cfg        *config.Config
	aggregator *telemetry.Aggregator
	engine     *alerts.Engine
	ledger     *ledger.Service
	hub        *realtime.Hub
	finder     safestop.Finder

	metrics     *metrics.Metrics
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	db          *sql.DB // nil when using in-memory stores
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc

	// Drowsiness alerts per open session, folded into the wellness log on close.
	eventsMu         sync.Mutex
	drowsinessEvents map[string]int

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSafeStopFinder injects a safe-stop collaborator (for testing).
func WithSafeStopFinder(f safestop.Finder) Option {
	return func(s *Server) {
		s.finder = f
	}
}

// New creates a server instance with all components wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:              cfg,
		logger:           logging.New(cfg.LogLevel, "json"),
		metrics:          metrics.New(),
		drowsinessEvents: make(map[string]int),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		sessionStore telemetry.Store
		alertStore   alerts.Store
		ledgerStore  ledger.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.metrics.StartDBStatsCollector(db)
		sessionStore = telemetry.NewPostgresStore(db)
		alertStore = alerts.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		sessionStore = telemetry.NewMemoryStore()
		alertStore = alerts.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Reward ledger
	ledgerSvc, err := ledger.NewService(ledgerStore, ledger.Options{
		MintThreshold:   cfg.MintThreshold,
		BaseRatePerHour: cfg.BaseRatePerHour,
		DurationCap:     cfg.DurationCap,
		Timeout:         cfg.LedgerTimeout,
		WriteAttempts:   cfg.WriteAttempts,
		Metrics:         s.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	s.ledger = ledgerSvc

	// Session aggregation
	s.aggregator = telemetry.NewAggregator(sessionStore, cfg.SessionGap, cfg.SampleTolerance, s.metrics)

	// Alert engine
	s.engine = alerts.NewEngine(alertStore, cfg.DrowsinessTiers, cfg.StressTiers, s.metrics)
	if s.finder == nil {
		s.finder = safestop.NewHTTPFinder(cfg.SafeStopURL, cfg.SafeStopAPIKey)
	}
	s.engine.SetSafeStopFinder(s.finder)
	s.engine.SetInterventionSink(s.aggregator.AddIntervention)

	// Realtime hub: samples come in over the socket, events go out.
	s.hub = realtime.NewHub(s.logger, s.aggregator, s.metrics)
	s.engine.SetEmitHook(func(alert *alerts.Alert) {
		s.hub.BroadcastAlert(alert.DriverID, alert)
	})
	s.ledger.SetMintHook(func(settlement *ledger.Settlement) {
		s.hub.BroadcastRewardMinted(settlement.DriverID, settlement)
	})

	// Every accepted sample flows through the alert engine regardless of
	// transport; every closed session flows into settlement.
	s.aggregator.SetSampleHook(s.onSample)
	s.aggregator.SetCloseHook(s.onSessionClosed)

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			if err := s.db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides the password in a connection string for logging.
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
// Pipeline hooks
// -----------------------------------------------------------------------------

// onSample runs the alert engine over every accepted sample and tracks
// drowsiness alert counts for the session's wellness log.
func (s *Server) onSample(ctx context.Context, driverID string, sample telemetry.Sample, session *telemetry.Session) {
	emitted := s.engine.OnSample(ctx, driverID, sample.Drowsiness, sample.Stress,
		sample.Timestamp, session.StartTime)

	for _, alert := range emitted {
		if alert.Type == alerts.TypeDrowsiness {
			s.eventsMu.Lock()
			s.drowsinessEvents[driverID]++
			s.eventsMu.Unlock()
		}
	}
}

// onSessionClosed settles the reward, seals a wellness log entry summarizing
// the session, and notifies realtime subscribers.
func (s *Server) onSessionClosed(ctx context.Context, session *telemetry.Session) {
	s.hub.BroadcastSessionClosed(session.DriverID, session)

	s.eventsMu.Lock()
	drowsinessEvents := s.drowsinessEvents[session.DriverID]
	delete(s.drowsinessEvents, session.DriverID)
	s.eventsMu.Unlock()

	if _, err := s.ledger.RecordWellnessLog(ctx, session.DriverID,
		drowsinessEvents, session.AvgStress, session.Interventions, 100, ""); err != nil {
		logging.L(ctx).Error("failed to record wellness log",
			"driver_id", session.DriverID,
			"session_id", session.ID,
			"error", err)
	}

	_, err := s.ledger.SettleSession(ctx, session.DriverID, session.ID,
		session.SafetyScore, session.DurationSeconds)
	switch {
	case errors.Is(err, ledger.ErrBelowThreshold):
		logging.L(ctx).Info("session below mint threshold",
			"driver_id", session.DriverID,
			"session_id", session.ID,
			"score", session.SafetyScore)
	case errors.Is(err, ledger.ErrDuplicateSettle):
		// Session close retried after a partial failure; the first settle stands.
	case err != nil:
		logging.L(ctx).Error("session settlement failed",
			"driver_id", session.DriverID,
			"session_id", session.ID,
			"error", err)
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (fleet dashboards run on separate origins)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware())

	// Rate limiting, keyed per driver on telemetry routes
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(s.metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		if driverID := c.Param("driverId"); driverID != "" {
			ctx = logging.WithDriverID(ctx, driverID)
		}
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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", s.metrics.Handler())

	// WebSocket for sample streaming and live events
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	// Safe-stop discovery is not driver-scoped
	safestop.NewHandlers(s.finder).Register(v1)

	// Realtime hub stats are operator-facing; ADMIN_SECRET locks them down.
	v1.GET("/realtime/stats", security.AdminAuthMiddleware(s.cfg.AdminSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	// Driver-scoped routes, driver ID validated once for the whole group
	driver := v1.Group("/drivers/:driverId")
	driver.Use(validation.DriverParamMiddleware())

	telemetry.NewHandlers(s.aggregator).WithMetrics(s.metrics).Register(driver)
	alerts.NewHandlers(s.engine).Register(driver)
	ledger.NewHandlers(s.ledger).Register(driver)
	steering.NewHandlers(s.engine).Register(driver)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthyAll, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthyAll {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "SafeDrive",
		"description": "Driver wellness telemetry, alerting and reward settlement",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop background goroutines (realtime hub)
	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Close any sessions still open so drivers get settled, not stranded.
	s.closeOpenSessions(ctx)

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// closeOpenSessions flushes open sessions through the close pipeline.
func (s *Server) closeOpenSessions(ctx context.Context) {
	for _, driverID := range s.aggregator.ActiveDrivers() {
		if _, err := s.aggregator.CloseActive(ctx, driverID); err != nil {
			s.logger.Error("failed to close session on shutdown",
				"driver_id", driverID, "error", err)
		}
	}
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
