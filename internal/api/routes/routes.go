package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerline/compliance_service/internal/api/handlers"
	"github.com/ledgerline/compliance_service/internal/api/middleware"
	"github.com/ledgerline/compliance_service/internal/domain/services/compliance"
	"github.com/ledgerline/compliance_service/pkg/logger"
)

// SetupRoutes configures all application routes.
func SetupRoutes(service *compliance.Service, db *sqlx.DB, log *logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(db, log)
	router.GET("/health", healthHandler.Health)
	router.GET("/live", healthHandler.Live)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	complianceHandler := handlers.NewComplianceHandler(service, log.Zap())

	v1 := router.Group("/api/v1")
	{
		users := v1.Group("/users/:user_id")
		{
			users.POST("/compliance", complianceHandler.RegisterUser)
			users.GET("/compliance", complianceHandler.GetUserState)
			users.POST("/transactions/evaluate", complianceHandler.EvaluateTransaction)
			users.POST("/transactions/commit", complianceHandler.CommitTransaction)
			users.POST("/screenings", complianceHandler.ScreenCounterparty)
			users.GET("/risk-score", complianceHandler.GetRiskScore)
			users.GET("/patterns", complianceHandler.GetUnusualPatterns)
			users.GET("/verification/recommendation", complianceHandler.GetVerificationRecommendation)
			users.POST("/verification/request", complianceHandler.RequestVerification)
			users.POST("/verification/complete", complianceHandler.CompleteVerification)
			users.POST("/deposits/:event_id/flag", complianceHandler.FlagDeposit)
			users.POST("/deposits/:event_id/unflag", complianceHandler.UnflagDeposit)
			users.GET("/compliance-log", complianceHandler.GetComplianceLog)
		}
	}

	return router
}
