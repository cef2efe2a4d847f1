package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerline/compliance_service/internal/api/routes"
	"github.com/ledgerline/compliance_service/internal/domain/services/aml"
	"github.com/ledgerline/compliance_service/internal/domain/services/compliance"
	"github.com/ledgerline/compliance_service/internal/domain/services/risk"
	"github.com/ledgerline/compliance_service/internal/domain/services/tierpolicy"
	"github.com/ledgerline/compliance_service/internal/domain/services/velocity"
	"github.com/ledgerline/compliance_service/internal/domain/services/verification"
	"github.com/ledgerline/compliance_service/internal/infrastructure/adapters"
	"github.com/ledgerline/compliance_service/internal/infrastructure/cache"
	"github.com/ledgerline/compliance_service/internal/infrastructure/config"
	"github.com/ledgerline/compliance_service/internal/infrastructure/database"
	"github.com/ledgerline/compliance_service/internal/infrastructure/repositories/postgres"
	"github.com/ledgerline/compliance_service/internal/workers/resetscheduler"
	"github.com/ledgerline/compliance_service/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	zapLog := log.Zap()

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Repositories
	userRepo := postgres.NewUserStateRepository(db, zapLog)
	depositRepo := postgres.NewDepositEventRepository(db, zapLog)
	auditRepo := postgres.NewComplianceLogRepository(db, zapLog)

	// Tier policy table
	policies, err := tierpolicy.FromConfig(cfg.Tiers)
	if err != nil {
		log.Fatal("Failed to build tier policy table", "error", err)
	}

	// Screening cache backed by Redis; the screener degrades to uncached
	// lookups when Redis is unavailable.
	var screeningCache aml.ResultCache
	if redisClient, err := cache.Connect(cfg.Redis); err != nil {
		log.Warn("Redis unavailable, screening cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		screeningCache = cache.NewScreeningCache(
			redisClient,
			time.Duration(cfg.AML.CacheTTLSeconds)*time.Second,
			zapLog,
		)
	}

	// AML providers
	providerConfig := adapters.AMLProviderConfig{
		APIKey:  cfg.AML.APIKey,
		BaseURL: cfg.AML.BaseURL,
		Timeout: time.Duration(cfg.AML.TimeoutSeconds) * time.Second,
	}
	providers := map[string]aml.Provider{
		"chainalysis": adapters.NewChainalysisProvider(providerConfig, zapLog),
		"elliptic":    adapters.NewEllipticProvider(providerConfig, zapLog),
	}
	mockProvider := adapters.NewMockAMLProvider()
	providers["mock"] = mockProvider

	amlLimits := aml.Thresholds{
		High:   cfg.AML.HighThreshold,
		Medium: cfg.AML.MediumThreshold,
		Low:    cfg.AML.LowThreshold,
	}
	screener, err := aml.NewService(
		providers,
		mockProvider,
		cfg.AML.Provider,
		cfg.AML.WhitelistPatterns,
		amlLimits,
		time.Duration(cfg.AML.TimeoutSeconds)*time.Second,
		screeningCache,
		zapLog,
	)
	if err != nil {
		log.Fatal("Failed to create AML screener", "error", err)
	}

	// Domain services
	gate := velocity.NewService(userRepo, depositRepo, auditRepo, policies, zapLog)
	riskEngine := risk.NewService(userRepo, depositRepo, policies, amlLimits, zapLog)
	advisor := verification.NewService(userRepo, auditRepo, riskEngine, policies, zapLog)
	service := compliance.NewService(gate, screener, riskEngine, advisor, userRepo, depositRepo, auditRepo, zapLog)

	// Router
	router := routes.SetupRoutes(service, db, log)

	// Reset scheduler
	var scheduler *resetscheduler.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = resetscheduler.NewScheduler(service, cfg.Scheduler, zapLog)
		if err != nil {
			log.Fatal("Failed to create reset scheduler", "error", err)
		}
		if err := scheduler.Start(); err != nil {
			log.Fatal("Failed to start reset scheduler", "error", err)
		}
	}

	// Create server
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		log.Info("Starting server", "port", cfg.Server.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			log.Warn("Error stopping reset scheduler", "error", err)
		}
	}

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}
