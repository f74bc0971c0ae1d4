// Package server sets up the HTTP node with all routes
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

	"github.com/mbd888/smarterescrow/internal/chain"
	"github.com/mbd888/smarterescrow/internal/config"
	"github.com/mbd888/smarterescrow/internal/escrow"
	"github.com/mbd888/smarterescrow/internal/genesis"
	"github.com/mbd888/smarterescrow/internal/health"
	"github.com/mbd888/smarterescrow/internal/logging"
	"github.com/mbd888/smarterescrow/internal/metrics"
	"github.com/mbd888/smarterescrow/internal/proxy"
	"github.com/mbd888/smarterescrow/internal/ratelimit"
	"github.com/mbd888/smarterescrow/internal/realtime"
	"github.com/mbd888/smarterescrow/internal/receipts"
	"github.com/mbd888/smarterescrow/internal/retry"
	"github.com/mbd888/smarterescrow/internal/security"
	"github.com/mbd888/smarterescrow/internal/state"
	"github.com/mbd888/smarterescrow/internal/traces"
	"github.com/mbd888/smarterescrow/internal/validation"
)

// Version is reported by /health and /v1/info.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	store         state.Store
	receiptStore  receipts.Store
	receipts      *receipts.Service
	chain         *chain.Chain
	accounts      *genesis.DevAccounts
	escrowService *escrow.Service
	realtimeHub   *realtime.Hub
	health        *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil unless DATABASE_URL is set
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	stopTracing   func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

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

// WithStore injects a state store (for testing). The server closes it on
// shutdown.
func WithStore(store state.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	stop, err := traces.Init(ctx, traces.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceVersion: Version,
		SampleRatio:    cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stop

	if err := s.openStorage(ctx); err != nil {
		return nil, err
	}

	s.realtimeHub = realtime.NewHub(s.logger, realtime.WithOrigins(cfg.AllowedOrigins()))

	s.receipts = receipts.NewService(s.receiptStore)
	registry := chain.NewRegistry(append(escrow.Contracts(), proxy.Contracts()...)...)
	chainOpts := []chain.Option{
		chain.WithRegistry(registry),
		chain.WithReceipts(s.receipts),
		chain.WithLogger(s.logger),
		chain.WithChainID(cfg.ChainID),
		chain.WithGasPrice(cfg.GasPriceWei()),
		chain.WithGasLimit(cfg.TxGasLimit),
		chain.WithReceiptSink(s.realtimeHub.PublishReceipt),
	}
	if cfg.Coinbase != "" {
		chainOpts = append(chainOpts, chain.WithCoinbase(cfg.CoinbaseAddress()))
	}
	s.chain = chain.New(s.store, chainOpts...)

	s.accounts, err = genesis.NewDevAccounts(cfg.DevSeed, cfg.DevAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to derive dev accounts: %w", err)
	}
	applied, err := genesis.Apply(ctx, s.chain, s.accounts, cfg.DevBalanceWei())
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.Info("genesis applied",
			"accounts", s.accounts.Len(),
			"balance", cfg.DevBalance,
			"chainId", cfg.ChainID,
		)
	} else {
		s.logger.Info("resuming existing chain")
	}

	s.escrowService = escrow.NewService(s.chain, s.logger)

	s.health = health.NewRegistry(health.DefaultTimeout)
	s.health.Register("state", health.PingCheck(s.store))
	s.health.Register("chain", health.HeadCheck(s.chain.Head))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// openStorage picks the state backend: PostgreSQL when DATABASE_URL is set,
// LevelDB when STATE_DIR is set, memory otherwise. Receipts follow PostgreSQL
// when available and stay in memory otherwise.
func (s *Server) openStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		policy := retry.Startup()
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			s.logger.Warn("database not reachable, retrying",
				"attempt", attempt, "delay", delay, "error", err)
		}
		if err := policy.Do(ctx, db.PingContext); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		if err := metrics.RegisterDB(db); err != nil {
			s.logger.Warn("database pool metrics unavailable", "error", err)
		}
		if s.store == nil {
			s.store = state.NewPostgresStore(db)
		}
		s.receiptStore = receipts.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
		return nil
	}

	s.receiptStore = receipts.NewMemoryStore()
	if s.store != nil {
		return nil
	}
	if s.cfg.StateDir != "" {
		store, err := state.OpenLevelDB(s.cfg.StateDir)
		if err != nil {
			return fmt.Errorf("failed to open state dir: %w", err)
		}
		s.store = store
		s.logger.Info("using LevelDB state", "dir", s.cfg.StateDir)
		return nil
	}

	s.store = state.NewMemoryStore()
	s.logger.Info("using in-memory state (data will not persist)")
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins()))

	s.router.Use(validation.BodyLimit(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: float64(s.cfg.RateLimitRPS),
		Burst:             s.cfg.RateLimitBurst,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(traces.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware logs each request once, at a level chosen by its status
// class: 5xx at error, 4xx at warn, everything else at debug.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		}
		if route := c.FullPath(); route != "" {
			attrs = append(attrs, slog.String("route", route))
		}
		if level == slog.LevelError {
			attrs = append(attrs, slog.String("client_ip", c.ClientIP()))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		logging.L(c.Request.Context()).LogAttrs(c.Request.Context(), level, "http request", attrs...)
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
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	v1.GET("/info", s.infoHandler)

	chain.NewHandler(s.chain, s.accounts).RegisterRoutes(v1)
	receipts.NewHandler(s.receipts).RegisterRoutes(v1)
	escrow.NewHandler(s.escrowService, s.accounts).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	ChainID   string          `json:"chainId"`
	Checks    []health.Status `json:"checks,omitempty"`
	CheckedAt time.Time       `json:"checkedAt"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	report := HealthReport{
		Status:    "healthy",
		Version:   Version,
		ChainID:   s.chain.ChainID().String(),
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
	code := http.StatusOK
	if !ok {
		report.Status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// livenessHandler only fails once shutdown has begun.
func (s *Server) livenessHandler(c *gin.Context) {
	if s.healthy.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
}

// readinessHandler reports ready once Run has started serving and the chain
// has a head block to serve from.
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "starting"})
		return
	}
	head, err := s.chain.Head(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "head": head})
}

func (s *Server) infoHandler(c *gin.Context) {
	head, err := s.chain.Head(c.Request.Context())
	if err != nil {
		chain.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":   Version,
		"chainId":   s.chain.ChainID().String(),
		"gasPrice":  s.chain.GasPrice().Dec(),
		"gasLimit":  s.cfg.TxGasLimit,
		"coinbase":  s.chain.Coinbase().Hex(),
		"head":      head,
		"contracts": s.chain.Registry().IDs(),
		"accounts":  s.accounts.Len(),
		"realtime":  s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 20 * time.Second
)

// Run serves HTTP and the realtime hub until ctx is cancelled, the listener
// fails, or the process receives SIGINT/SIGTERM, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("listening",
			"addr", s.httpSrv.Addr,
			"chainId", s.cfg.ChainID,
			"accounts", s.accounts.Len(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	s.ready.Store(true)

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
	s.healthy.Store(false)
	s.logger.Info("draining", "timeout", shutdownTimeout)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.stopTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("state close error", "error", err)
			errs = append(errs, err)
		}
	}

	// PostgresStore.Close is a no-op; the pool is owned here.
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
			errs = append(errs, err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Chain returns the node's chain (for testing and embedding).
func (s *Server) Chain() *chain.Chain {
	return s.chain
}

// Accounts returns the unlocked development accounts.
func (s *Server) Accounts() *genesis.DevAccounts {
	return s.accounts
}
