// Package server wires the fraud radar pipeline to its HTTP surface.
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
	"github.com/mbd888/fraudradar/internal/config"
	"github.com/mbd888/fraudradar/internal/generator"
	"github.com/mbd888/fraudradar/internal/health"
	"github.com/mbd888/fraudradar/internal/logging"
	"github.com/mbd888/fraudradar/internal/metrics"
	"github.com/mbd888/fraudradar/internal/realtime"
	"github.com/mbd888/fraudradar/internal/risk"
	"github.com/mbd888/fraudradar/internal/simulation"
	"github.com/mbd888/fraudradar/internal/traces"
	"github.com/mbd888/fraudradar/internal/transactions"
)

const version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the pipeline behind it
type Server struct {
	cfg           *config.Config
	store         transactions.Store
	scorer        *risk.Scorer
	realtimeHub   *realtime.Hub
	kafkaSink     *realtime.KafkaSink
	loop          *simulation.Loop
	health        *health.Registry
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	drainDelay    time.Duration

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

// WithStore injects a transaction store (for testing)
func WithStore(store transactions.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing the listener
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			pg := transactions.NewPostgresStore(db)
			if err := pg.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to migrate transaction store: %w", err)
			}
			if err := metrics.RegisterDB(db, "fraudradar"); err != nil {
				s.logger.Warn("failed to register database metrics", "error", err)
			}
			s.db = db
			s.store = pg
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = transactions.NewMemoryStore()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Scoring
	s.scorer = risk.NewScorerFromFile(cfg.ModelPath, logging.Component(s.logger, "risk")).
		WithWindow(cfg.NormalizationWindow)
	if cfg.StrictCatalog {
		s.scorer.WithStrictCatalog()
	}
	s.logger.Info("risk scorer ready",
		"mode", s.scorer.Mode(),
		"window", s.scorer.Window(),
		"strict_catalog", cfg.StrictCatalog,
	)

	// Fan-out
	s.realtimeHub = realtime.NewHub(logging.Component(s.logger, "realtime"))
	if len(cfg.KafkaBrokers) > 0 {
		s.kafkaSink = realtime.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logging.Component(s.logger, "kafka"))
	}

	// Simulation
	s.loop = simulation.New(
		generator.New(generator.WithSeed(cfg.GeneratorSeed)),
		s.scorer,
		s.store,
		s.realtimeHub,
		logging.Component(s.logger, "simulation"),
	).WithConfig(simulation.Config{
		WarmupDelay:        cfg.WarmupDelay,
		Interval:           cfg.TickInterval,
		PersistMaxAttempts: cfg.PersistMaxAttempts,
		PersistBaseDelay:   simulation.DefaultConfig().PersistBaseDelay,
		MaxFailedTicks:     cfg.MaxFailedTicks,
	})

	// Health checks
	s.health = health.NewRegistry()
	s.health.Register("store", health.StoreChecker(s.store))
	// A loop that has not been started yet is healthy; once started it must
	// still be running.
	s.health.Register("simulation", health.LoopChecker(
		func() bool { return s.loop.Running() || s.loop.State() == simulation.StateIdle },
		func() string { return string(s.loop.State()) },
	))

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
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Live stream, server to client only
	s.router.GET("/ws/stream", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	transactions.NewHandler(transactions.NewService(s.store, s.scorer)).RegisterRoutes(api)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    []health.Status        `json:"checks,omitempty"`
	Stream    map[string]interface{} `json:"stream,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Stream:    s.realtimeHub.Stats(),
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

// Run starts the pipeline and the HTTP server, and blocks until a signal,
// ctx cancellation, or a fatal pipeline error. A fatal error is returned
// after shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	traceShutdown, err := traces.Init(runCtx, traces.Options{
		Endpoint: s.cfg.OTLPEndpoint,
		Version:  version,
		Ratio:    s.cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing, continuing without it", "error", err)
	} else {
		s.traceShutdown = traceShutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	loopErr := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.kafkaSink != nil {
		if err := s.realtimeHub.Connect(s.kafkaSink); err != nil {
			s.logger.Warn("failed to attach kafka sink", "error", err)
		}
	}

	go func() {
		if err := s.loop.Start(runCtx); err != nil {
			loopErr <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case err := <-errChan:
		runErr = fmt.Errorf("server error: %w", err)
	case err := <-loopErr:
		s.healthy.Store(false)
		runErr = fmt.Errorf("simulation failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stops the loop and the hub; the hub closes every subscriber, the
	// Kafka sink included.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
