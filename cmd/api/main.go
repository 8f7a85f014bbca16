package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/straye-as/pipeline-engine/docs"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/cache"
	"github.com/straye-as/pipeline-engine/internal/config"
	"github.com/straye-as/pipeline-engine/internal/database"
	"github.com/straye-as/pipeline-engine/internal/events"
	"github.com/straye-as/pipeline-engine/internal/http/handler"
	"github.com/straye-as/pipeline-engine/internal/http/middleware"
	"github.com/straye-as/pipeline-engine/internal/http/router"
	"github.com/straye-as/pipeline-engine/internal/jobs"
	"github.com/straye-as/pipeline-engine/internal/logger"
	"github.com/straye-as/pipeline-engine/internal/metrics"
	"github.com/straye-as/pipeline-engine/internal/phone"
	"github.com/straye-as/pipeline-engine/internal/repository"
	"github.com/straye-as/pipeline-engine/internal/service"
	"go.uber.org/zap"
)

// @title Straye Pipeline Engine API
// @version 1.0
// @description Sales pipeline and lead conversion engine

// @contact.name API Support
// @contact.email support@straye.io

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @description API Key for system operations
// @Security BearerAuth
// @Security ApiKeyAuth

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Basic configuration first, for logging setup
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", basicCfg.App.Port)

	// Environment variables in development, Azure Key Vault elsewhere
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Prefix)
	}

	// Redis is optional; without it the default pipeline is read from the database every time
	var (
		pipelineCache service.PipelineCache
		cachePinger   handler.Pinger
	)
	if cfg.Redis.Enabled {
		rdb, err := cache.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, continuing without pipeline cache", zap.Error(err))
		} else {
			defer rdb.Close()
			pc := cache.NewPipelineCache(rdb, cfg.Redis.TTLDuration(), log)
			pipelineCache, cachePinger = pc, pc
			log.Info("Pipeline cache enabled", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	var trigger service.WorkflowTrigger
	if cfg.Kafka.Enabled {
		publisher := events.NewKafkaPublisher(&cfg.Kafka, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("Error closing workflow publisher", zap.Error(err))
			}
		}()
		trigger = publisher
		log.Info("Workflow events published to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	} else {
		trigger = events.NewLogTrigger(log)
	}

	uow := repository.NewUnitOfWork(db)
	phones := phone.NewNormalizer(cfg.Engine.PhoneDefaultRegion)

	pipelineService := service.NewPipelineService(uow, pipelineCache, log, service.UTCNow)
	opportunityService := service.NewOpportunityService(uow, pipelineService, trigger, m, log, service.UTCNow, cfg.Engine.DefaultCurrency)
	leadService := service.NewLeadService(uow, trigger, m, log, service.UTCNow)
	conversionService := service.NewLeadConversionService(uow, phones, cfg.Engine.ConvertibleLeadStatuses, cfg.Engine.DefaultCurrency, trigger, m, log, service.UTCNow)
	rottingSweeper := service.NewRottingSweeper(uow, trigger, m, log, service.UTCNow)

	authMiddleware := auth.NewMiddleware(cfg, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	rt := router.NewRouter(cfg, log, m, authMiddleware, rateLimiter, router.Handlers{
		Health:      handler.NewHealthHandler(db, cachePinger, log),
		Pipeline:    handler.NewPipelineHandler(pipelineService, log),
		Opportunity: handler.NewOpportunityHandler(opportunityService, log),
		Lead:        handler.NewLeadHandler(leadService, conversionService, log),
	})

	var scheduler *jobs.Scheduler
	if cfg.Jobs.RottingSweepEnabled {
		scheduler = jobs.NewScheduler(log)
		job := jobs.NewRottingSweepJob(rottingSweeper, log, cfg.Jobs.RottingSweepTimeoutDuration())
		if err := scheduler.RegisterRottingSweep(cfg.Jobs.RottingSweepCron, job); err != nil {
			log.Error("Failed to register rotting sweep job", zap.Error(err))
			scheduler = nil
		} else {
			scheduler.Start()
			log.Info("Scheduler started with rotting sweep",
				zap.String("cron_expr", cfg.Jobs.RottingSweepCron),
				zap.Duration("timeout", cfg.Jobs.RottingSweepTimeoutDuration()),
			)
		}
	} else {
		log.Info("Rotting sweep disabled")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      http.TimeoutHandler(rt.Setup(), cfg.Server.RequestTimeoutDuration(), `{"type":"internal_error","title":"Service Unavailable","status":503,"detail":"Request timed out"}`),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Running sweeps finish before the database goes away
		if scheduler != nil {
			<-scheduler.Stop().Done()
			log.Info("Scheduler stopped")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}

		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}
