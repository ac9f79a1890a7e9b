package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/membroker/api/handlers"
	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/broker"
	"github.com/BaSui01/membroker/config"
	"github.com/BaSui01/membroker/internal/metrics"
	"github.com/BaSui01/membroker/internal/migration"
	"github.com/BaSui01/membroker/internal/server"
	"github.com/BaSui01/membroker/internal/telemetry"
	"github.com/BaSui01/membroker/retention"
	"github.com/BaSui01/membroker/router"
)

// skipAuthPaths are exempt from authentication and never rate limited by
// role: probes and scrapers hit them on tight loops.
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// Server wires configuration, backends, the broker, and the HTTP surface
// into one process.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	logLevel   zap.AtomicLevel

	otel             *telemetry.Providers
	metricsCollector *metrics.Collector
	hotReloadManager *config.HotReloadManager

	fastStore       backend.Adapter
	analyticalStore backend.Adapter
	memoryBroker    *broker.Broker

	httpManager       *server.Manager
	rateLimiter       *IPRateLimiter
	rateLimiterCancel context.CancelFunc
}

// NewServer creates a server. configPath may be empty; without it the hot
// reload manager skips file watching and the reload endpoint is inert.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, logLevel zap.AtomicLevel, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		logLevel:   logLevel,
		otel:       otel,
	}
}

// Start brings the process up: metrics, migrations, backends, broker, hot
// reload, then the HTTP listener. Steps fail fast so a half-started
// process never serves traffic.
func (s *Server) Start() error {
	if s.cfg.Metrics.Enabled {
		s.metricsCollector = metrics.NewCollector(s.cfg.Metrics.Namespace, s.logger)
	}

	if s.cfg.AnalyticalStore.Driver == "sql" && s.cfg.AnalyticalStore.MigrateOnStart {
		if err := s.runMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if err := s.initBackends(); err != nil {
		return fmt.Errorf("failed to initialize backends: %w", err)
	}

	s.memoryBroker = broker.New(s.fastStore, s.analyticalStore, s.brokerConfig(), s.logger)

	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to initialize hot reload manager: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("fast_store", s.fastStore.Name()),
		zap.String("analytical_store", s.analyticalStore.Name()),
	)
	return nil
}

// runMigrations applies pending schema migrations to the analytical store.
func (s *Server) runMigrations() error {
	migrator, err := migration.NewMigratorFromConfig(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := migrator.Up(ctx); err != nil {
		return err
	}

	s.logger.Info("database migrations applied")
	return nil
}

// initBackends builds the fast and analytical adapters from configuration.
func (s *Server) initBackends() error {
	fast, err := backend.New(fastBackendConfig(s.cfg.FastStore), s.logger)
	if err != nil {
		return fmt.Errorf("failed to create fast store: %w", err)
	}
	s.fastStore = fast

	analytical, err := backend.New(analyticalBackendConfig(s.cfg.AnalyticalStore), s.logger)
	if err != nil {
		fast.Close()
		return fmt.Errorf("failed to create analytical store: %w", err)
	}
	s.analyticalStore = analytical

	return nil
}

// initHotReloadManager starts watching the config file (when a path is
// set) and registers the callbacks that apply hot-reloadable fields to
// the running process.
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{config.WithHotReloadLogger(s.logger)}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}
	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("config changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
		s.applyHotChange(change)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.cfg = newConfig
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return err
	}
	return nil
}

// applyHotChange pushes a changed field into the component that consumes
// it. Fields outside the switch only take effect on restart.
func (s *Server) applyHotChange(change config.ConfigChange) {
	switch change.Path {
	case "Log.Level":
		level, ok := change.NewValue.(string)
		if !ok {
			return
		}
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			s.logger.Warn("ignoring invalid log level", zap.String("level", level))
			return
		}
		s.logLevel.SetLevel(parsed)
		s.logger.Info("log level updated", zap.String("level", level))

	case "Server.RateLimitRPS", "Server.RateLimitBurst":
		if s.rateLimiter == nil {
			return
		}
		current := s.hotReloadManager.GetConfig()
		s.rateLimiter.Update(current.Server.RateLimitRPS, current.Server.RateLimitBurst)
		s.logger.Info("rate limiter updated",
			zap.Float64("rps", current.Server.RateLimitRPS),
			zap.Int("burst", current.Server.RateLimitBurst),
		)
	}
}

// startHTTPServer registers the routes, assembles the middleware chain,
// and begins listening.
func (s *Server) startHTTPServer() error {
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewBackendHealthCheck(s.fastStore))
	healthHandler.RegisterCheck(handlers.NewBackendHealthCheck(s.analyticalStore))

	memoryHandler := handlers.NewMemoryHandler(s.memoryBroker, s.logger)
	statusHandler := handlers.NewStatusHandler(s.memoryBroker, s.logger)
	configHandler := handlers.NewConfigHandler(s.hotReloadManager, s.logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/readyz", healthHandler.HandleReady)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	if s.cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/api/v1/memory", memoryHandler.HandleStore)
	mux.HandleFunc("/api/v1/memory/query", memoryHandler.HandleQuery)
	mux.HandleFunc("/api/v1/memory/{id}", memoryHandler.HandleGet)
	mux.HandleFunc("/api/v1/agents/{id}/memory", memoryHandler.HandleAgentSummary)
	mux.HandleFunc("/api/v1/analytics/memory", memoryHandler.HandleAnalytics)

	mux.HandleFunc("/api/v1/status", statusHandler.HandleStatus)
	mux.HandleFunc("/api/v1/maintenance/run", statusHandler.HandleMaintenance)

	mux.HandleFunc("/api/v1/config", configHandler.HandleConfig)
	mux.HandleFunc("/api/v1/config/reload", configHandler.HandleReload)
	mux.HandleFunc("/api/v1/config/fields", configHandler.HandleFields)
	mux.HandleFunc("/api/v1/config/changes", configHandler.HandleChanges)
	mux.HandleFunc("/api/v1/config/rollback", configHandler.HandleRollback)

	instruments, err := telemetry.NewRequestInstruments()
	if err != nil {
		s.logger.Warn("failed to create request instruments", zap.Error(err))
	}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(instruments),
	}
	if s.metricsCollector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.metricsCollector))
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		s.rateLimiter = NewIPRateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger)
		middlewares = append(middlewares, s.rateLimiter.Middleware())
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}

	handler := Chain(mux, middlewares...)

	httpConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		MaxConns:        s.cfg.Server.MaxConns,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, httpConfig, s.logger)
	return s.httpManager.Start()
}

// WaitForShutdown blocks until the HTTP server stops, then tears the
// process down.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops every component in reverse start order.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down server")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Warn("failed to stop hot reload manager", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}

	// Closing the broker stops the maintenance loop and closes both
	// adapters.
	if s.memoryBroker != nil {
		if err := s.memoryBroker.Close(); err != nil {
			s.logger.Warn("broker close reported errors", zap.Error(err))
		}
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}

	s.logger.Info("server stopped")
}

// brokerConfig translates the broker section into component options.
func (s *Server) brokerConfig() broker.Config {
	return broker.Config{
		CacheCapacity:     s.cfg.Broker.CacheCapacity,
		TelemetryCapacity: s.cfg.Broker.TelemetryCapacity,
		Router:            router.Config{SuccessFloor: s.cfg.Broker.SuccessFloor},
		Maintenance: retention.Config{
			Interval: s.cfg.Broker.MaintenanceInterval,
			Window:   s.cfg.Broker.ReweightWindow,
		},
		Metrics: s.metricsCollector,
	}
}

// fastBackendConfig translates the fast store section into an adapter
// configuration.
func fastBackendConfig(cfg config.FastStoreConfig) backend.Config {
	return backend.Config{
		Driver: backend.Driver(cfg.Driver),
		Role:   backend.RoleFast,
		Redis: backend.RedisConfig{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			TLS:       cfg.TLS,
			DB:        cfg.DB,
			PoolSize:  cfg.PoolSize,
			KeyPrefix: cfg.KeyPrefix,
		},
	}
}

// analyticalBackendConfig translates the analytical store section into an
// adapter configuration.
func analyticalBackendConfig(cfg config.AnalyticalStoreConfig) backend.Config {
	return backend.Config{
		Driver: backend.Driver(cfg.Driver),
		Role:   backend.RoleAnalytical,
		SQL: backend.SQLConfig{
			Dialect:         backend.SQLDialect(cfg.Dialect),
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			MigrateOnStart:  cfg.MigrateOnStart,
		},
		Mongo: backend.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		},
	}
}
