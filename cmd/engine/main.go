package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autopromo/internal/core/ports"
	"autopromo/internal/core/services"
	httphandlers "autopromo/internal/handlers/http"
	"autopromo/internal/infrastructure/middleware"
	"autopromo/internal/infrastructure/monitoring"
	"autopromo/internal/infrastructure/notifications"
	repositories "autopromo/internal/infrastructure/repositories"
	"autopromo/pkg/cache"
	"autopromo/pkg/config"
	"autopromo/pkg/logger"
	"autopromo/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/autopromo/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "autopromo",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracerProvider.Shutdown(ctx)
	}()

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	experimentRepo := repoFactory.CreateExperimentRepository()
	eventStore := repoFactory.CreateEventStore()
	auditRepo := repoFactory.CreateAuditRepository()
	alertLog := repoFactory.CreateAlertLog()
	lockManager := repoFactory.CreateLockManager(cfg.Promotion.LockTTL)

	// Initialize monitoring
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
	}

	// Initialize notifications
	registry := notifications.NewStaticRegistry(cfg.DomainSubscribers())
	gateway := notifications.NewLogGateway(log)
	dispatcher := services.NewAlertDispatcher(
		registry,
		gateway,
		alertLog,
		scanRecorder(collector),
		log,
		cfg.Notifications.RetryAttempts,
		cfg.Notifications.DeliveryTimeout,
	)

	// Initialize core services
	experimentCache := cache.New(cfg.Metrics.CacheTTL)
	defer experimentCache.Stop()

	metricsService := services.NewMetricsService(eventStore, log, cfg.Metrics.QueryTimeout)
	safetyEngine := services.NewSafetyEngine(alertLog, log)
	eligibilityService := services.NewEligibilityService(
		experimentRepo,
		metricsService,
		safetyEngine,
		cfg.ActiveRules,
		experimentCache,
		log,
	)
	promotionService := services.NewPromotionService(
		experimentRepo,
		auditRepo,
		eligibilityService,
		lockManager,
		dispatcher,
		experimentCache,
		scanRecorder(collector),
		log,
	)
	rollbackService := services.NewRollbackService(
		experimentRepo,
		auditRepo,
		lockManager,
		dispatcher,
		experimentCache,
		scanRecorder(collector),
		log,
	)

	// Initialize scheduler
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()

	scheduler := services.NewScheduler(
		services.SchedulerConfig{
			Interval:                cfg.Scheduler.Interval,
			MaxConcurrentPromotions: cfg.Scheduler.MaxConcurrentPromotions,
			PromotionWindow:         cfg.Scheduler.PromotionWindow,
			PerExperimentTimeout:    cfg.Scheduler.PerExperimentTimeout,
			DispatchMinLevel:        cfg.Scheduler.DispatchMinLevel,
		},
		experimentRepo,
		auditRepo,
		eligibilityService,
		promotionService,
		dispatcher,
		scanRecorder(collector),
		log,
	)
	if cfg.Scheduler.Enabled {
		scheduler.Start(schedulerCtx)
		defer scheduler.Stop()
	}

	// Initialize HTTP handlers
	promotionHandler := httphandlers.NewPromotionHandler(
		experimentRepo,
		eligibilityService,
		promotionService,
		rollbackService,
		auditRepo,
	)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	promotionHandler.SetupRoutes(router)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(503, gin.H{
				"status":       "not_ready",
				"timestamp":    time.Now(),
				"dependencies": "unhealthy",
				"error":        err.Error(),
			})
			return
		}

		c.JSON(200, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting auto-promotion engine on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server error", "error", err)
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	}

	cancelScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
	}
	log.Info("server stopped")
}

// scanRecorder keeps the nil-recorder contract explicit: a disabled
// collector becomes a nil port, not a typed-nil interface.
func scanRecorder(collector *monitoring.PrometheusCollector) ports.ScanRecorder {
	if collector == nil {
		return nil
	}
	return collector
}
