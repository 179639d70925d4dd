// Package server sets up the HTTP server with all routes
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
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"

	"github.com/Muneeb-Masood/EC-ML/internal/circuitbreaker"
	"github.com/Muneeb-Masood/EC-ML/internal/config"
	"github.com/Muneeb-Masood/EC-ML/internal/enrich"
	"github.com/Muneeb-Masood/EC-ML/internal/health"
	"github.com/Muneeb-Masood/EC-ML/internal/logging"
	"github.com/Muneeb-Masood/EC-ML/internal/metrics"
	"github.com/Muneeb-Masood/EC-ML/internal/ml"
	"github.com/Muneeb-Masood/EC-ML/internal/ratelimit"
	"github.com/Muneeb-Masood/EC-ML/internal/risk"
	"github.com/Muneeb-Masood/EC-ML/internal/security"
	"github.com/Muneeb-Masood/EC-ML/internal/stream"
	"github.com/Muneeb-Masood/EC-ML/internal/traces"
	"github.com/Muneeb-Masood/EC-ML/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	scoring     config.Scoring
	version     string
	scorer      ml.Scorer  // nil means dial cfg.MLEndpoint
	store       risk.Store // nil means pick from cfg.DatabaseURL
	modelConn   *ml.GRPCClient
	model       *ml.Service
	engine      *risk.Engine
	geoDB       *geoip2.Reader
	redis       *redis.Client
	publisher   *stream.Publisher
	rateLimiter *ratelimit.Limiter
	health      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	tracing     traces.ShutdownFunc
	drainDelay  time.Duration

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithScoring sets the scoring parameters (defaults otherwise)
func WithScoring(sc config.Scoring) Option {
	return func(s *Server) {
		s.scoring = sc
	}
}

// WithVersion sets the version reported by /health
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithModel sets a custom model scorer (for testing)
func WithModel(m ml.Scorer) Option {
	return func(s *Server) {
		s.scorer = m
	}
}

// WithStore sets a custom audit store (for testing)
func WithStore(store risk.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithTracing registers the tracer shutdown run after the server stops
func WithTracing(shutdown traces.ShutdownFunc) Option {
	return func(s *Server) {
		s.tracing = shutdown
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		scoring:    config.DefaultScoring(),
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(health.DefaultTimeout),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set logger/model/store)
	for _, opt := range opts {
		opt(s)
	}

	if err := s.setupModel(); err != nil {
		return nil, err
	}
	if err := s.setupStore(); err != nil {
		s.closeResources()
		return nil, err
	}

	s.engine = risk.NewEngine(risk.ComponentsFromConfig(s.scoring, s.model, s.logger), s.store, s.logger)

	if err := s.setupEnrichment(); err != nil {
		s.closeResources()
		return nil, err
	}
	if err := s.setupPublisher(); err != nil {
		s.closeResources()
		return nil, err
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) setupModel() error {
	scorer := s.scorer
	if scorer == nil && s.cfg.MLEndpoint != "" {
		conn, err := ml.Dial(s.cfg.MLEndpoint)
		if err != nil {
			return err
		}
		s.modelConn = conn
		scorer = conn
		s.health.Register("ml_model", conn.Ready)
		s.logger.Info("ML scoring enabled", "endpoint", s.cfg.MLEndpoint)
	} else if scorer == nil {
		s.logger.Warn("ML scoring disabled (no ML_ENDPOINT set), scores will be null")
	}

	mlCfg := ml.DefaultConfig()
	mlCfg.Timeout = s.cfg.MLTimeout
	s.model = ml.NewService(scorer, mlCfg, s.logger)

	breaker := s.model.Breaker()
	s.health.Register("ml_breaker", func(context.Context) error {
		if breaker.State() == circuitbreaker.StateOpen {
			return errors.New("circuit open")
		}
		return nil
	})
	return nil
}

// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
func (s *Server) setupStore() error {
	if s.store != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		s.store = risk.NewMemoryStore()
		s.logger.Info("using in-memory verdict audit store")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	pg := risk.NewPostgresStore(db)
	s.store = pg
	s.health.Register("database", pg.Ping)
	s.logger.Info("using PostgreSQL verdict audit store", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) setupEnrichment() error {
	if s.cfg.GeoIPCityDB == "" {
		return nil
	}
	reader, err := geoip2.Open(s.cfg.GeoIPCityDB)
	if err != nil {
		return fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	s.geoDB = reader

	var cache enrich.Cache
	if s.cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: s.cfg.RedisAddr})
		cache = s.redis
		s.health.Register("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		})
	}

	s.engine.WithLocator(enrich.New(reader, cache, s.cfg.GeoIPTTL, s.logger))
	s.logger.Info("IP location enrichment enabled",
		"geoip_db", s.cfg.GeoIPCityDB,
		"cache", s.cfg.RedisAddr != "",
	)
	return nil
}

func (s *Server) setupPublisher() error {
	if s.cfg.KafkaBroker == "" {
		return nil
	}
	producer, err := stream.NewProducer(stream.Config{Broker: s.cfg.KafkaBroker})
	if err != nil {
		return err
	}
	s.publisher = stream.NewPublisher(producer, s.cfg.KafkaVerdictTopic, s.logger)
	s.engine.WithPublisher(s.publisher)
	s.logger.Info("verdict publishing enabled", "topic", s.cfg.KafkaVerdictTopic)
	return nil
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":  "Internal server error",
			"reason": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig(s.cfg.RateLimitRPM))
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > validation.MaxIDLength {
			requestID = uuid.NewString()
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

		// Log level based on status code
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
			attrs = append(attrs, "client_ip", c.ClientIP())
		case status >= 400:
			level = slog.LevelWarn
		}

		ctx := c.Request.Context()
		logging.L(ctx).Log(ctx, level, "request completed", attrs...)
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	handler := risk.NewHandler(s.engine)

	// Unversioned path kept for existing clients
	handler.RegisterRoutes(s.router)

	v1 := s.router.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterAuditRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.health.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy: " + st.Detail
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	var shutdownErr error
	if s.httpSrv != nil {
		// Give load balancers time to stop sending traffic
		time.Sleep(s.drainDelay)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Finish audit writes before the store goes away
	s.engine.Drain()
	s.logger.Info("pending verdict writes drained")

	s.closeResources()

	if s.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeResources() {
	if s.publisher != nil {
		s.publisher.Close()
		s.logger.Info("verdict publisher closed")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.modelConn != nil {
		if err := s.modelConn.Close(); err != nil {
			s.logger.Error("model connection close error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.geoDB != nil {
		if err := s.geoDB.Close(); err != nil {
			s.logger.Error("GeoIP database close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the risk engine
func (s *Server) Engine() *risk.Engine {
	return s.engine
}
