package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtcstats/internal/core/services"
	httphandlers "rtcstats/internal/handlers/http"
	"rtcstats/internal/infrastructure/archive"
	"rtcstats/internal/infrastructure/events"
	"rtcstats/internal/infrastructure/middleware"
	"rtcstats/internal/infrastructure/monitoring"
	repositories "rtcstats/internal/infrastructure/repositories"
	redisrepo "rtcstats/internal/infrastructure/repositories/redis"
	wssignal "rtcstats/internal/infrastructure/signal"
	"rtcstats/pkg/config"
	"rtcstats/pkg/logger"
	"rtcstats/pkg/retry"
	"rtcstats/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	issueToken := flag.String("issue-token", "", "print an upload token for the given app and exit")
	flag.Parse()

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		if cfg.Auth.JWTSecret == "" {
			fmt.Fprintln(os.Stderr, "auth.jwt_secret is not configured")
			os.Exit(1)
		}
		token, err := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	startTime := time.Now()

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	log.Infow("configuration loaded", "path", path, "store", cfg.Store.Backend)

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	repoFactory, err := repositories.NewRepositoryFactory(startCtx, cfg, log)
	if err != nil {
		startCancel()
		log.Fatalw("failed to create repository factory", "error", err)
	}

	store := repoFactory.CreateMetadataStore()
	if err := store.EnsureIndexes(startCtx); err != nil {
		startCancel()
		log.Fatalw("failed to ensure metadata indexes", "error", err)
	}
	startCancel()

	dumpArchive, err := archive.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize dump archive", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prometheusCollector := monitoring.NewPrometheusCollector(registry)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("metadata_store", repoFactory.HealthCheck, 2*time.Second)
	healthChecker.AddCheck("dump_archive", dumpArchive.HealthCheck, 2*time.Second)

	retryCfg := retry.Config{
		MaxAttempts:  cfg.Persist.MaxAttempts,
		InitialDelay: cfg.Persist.InitialDelay,
		MaxDelay:     cfg.Persist.MaxDelay,
		Multiplier:   cfg.Persist.Multiplier,
		Jitter:       cfg.Persist.Jitter,
	}
	metadataService := services.NewMetadataService(store, retryCfg, prometheusCollector, log)
	sessionService := services.NewSessionService(
		services.NewStatsAggregator(),
		metadataService,
		dumpArchive,
		prometheusCollector,
		log,
		cfg.Persist.Workers,
	)

	var eventClient *redis.Client
	if cfg.Events.Enabled {
		eventClient, err = redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect event bus", "error", err)
		}
		sessionService.SetEventPublisher(events.NewEventBus(eventClient, cfg.Events.Channel, instanceID(), log))
		healthChecker.AddCheck("event_bus", func(ctx context.Context) error {
			return eventClient.Ping(ctx).Err()
		}, 2*time.Second)
	}

	var authService services.AuthService
	if cfg.Auth.JWTSecret != "" {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}

	sessionHandler := httphandlers.NewSessionHandler(
		sessionService,
		metadataService,
		cfg.Archive.TempDir,
		cfg.Server.MaxBodyBytes,
		cfg.Server.MaxBatchSize,
		cfg.Persist.Timeout,
		log,
	)
	wsServer := wssignal.NewWebSocketServer(sessionService, wssignal.Config{
		TempDir:         cfg.Archive.TempDir,
		MaxMessageBytes: cfg.Server.MaxBodyBytes,
		ProcessTimeout:  cfg.Persist.Timeout,
		AllowedOrigins:  cfg.Auth.AllowedOrigins,
	}, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
	)

	ingest := []gin.HandlerFunc{
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.AuthMiddleware(authService),
	}
	sessionHandler.SetupRoutes(router, ingest...)
	router.GET("/ws/sessions", append(ingest, wsServer.HandleWebSocket)...)

	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status.Status,
			"timestamp":   status.Timestamp,
			"checks":      status.Checks,
			"uptime":      time.Since(startTime).String(),
			"store":       repoFactory.Backend(),
			"connections": wsServer.ConnectionCount(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting rtcstats server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down rtcstats server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	wsServer.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := redisrepo.CloseRedisClient(eventClient); err != nil {
		log.Errorw("Error closing event bus", "error", err)
	}
	if err := repoFactory.Close(shutdownCtx); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("rtcstats server stopped")
}

// instanceID names this process in published events.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// loadConfig uses the explicit path when given, otherwise the first of the
// usual locations that exists, otherwise defaults with env overrides.
func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}

	for _, path := range []string{
		"configs/config.yaml",
		"/etc/rtcstats/config.yaml",
		"config.yaml",
	} {
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		}
	}

	cfg, err := config.Load("")
	return cfg, "defaults", err
}
