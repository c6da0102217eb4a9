package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/clinovia/clinic-lab-api/api/swagger"
	"github.com/clinovia/clinic-lab-api/internal/handler"
	"github.com/clinovia/clinic-lab-api/internal/middleware"
	"github.com/clinovia/clinic-lab-api/internal/models"
	"github.com/clinovia/clinic-lab-api/internal/repository"
	"github.com/clinovia/clinic-lab-api/internal/service"
	"github.com/clinovia/clinic-lab-api/pkg/cache"
	"github.com/clinovia/clinic-lab-api/pkg/config"
	"github.com/clinovia/clinic-lab-api/pkg/database"
	"github.com/clinovia/clinic-lab-api/pkg/export"
	"github.com/clinovia/clinic-lab-api/pkg/jobs"
	"github.com/clinovia/clinic-lab-api/pkg/logger"
	corsmiddleware "github.com/clinovia/clinic-lab-api/pkg/middleware/cors"
	reqidmiddleware "github.com/clinovia/clinic-lab-api/pkg/middleware/requestid"
	"github.com/clinovia/clinic-lab-api/pkg/storage"
)

// @title Clinic Lab API
// @version 1.0.0
// @description Diagnostic test request workflow, billing-gated report access and patient billing.
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}

	metricsService := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Cache.DefaultTTL, logr, cfg.Cache.Enabled)

	userRepo := repository.NewUserRepository(db)
	testRequestRepo := repository.NewTestRequestRepository(db)
	billingRepo := repository.NewBillingRepository(db)

	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "clinic-lab-api",
	})
	userService := service.NewUserService(userRepo, nil, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := service.NewQueuedReportDispatcher(service.LoggingNotifier{Logger: logr}, jobs.QueueConfig{
		Workers:    cfg.Dispatch.Workers,
		MaxRetries: cfg.Dispatch.MaxRetries,
		RetryDelay: cfg.Dispatch.RetryDelay,
	}, logr)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	workflowService := service.NewWorkflowService(testRequestRepo, billingRepo, userRepo, userRepo, logr,
		service.WithReportDispatcher(dispatcher),
		service.WithWorkflowMetrics(metricsService),
	)
	reassignedService := service.NewReassignedPatientService(billingRepo, userRepo, cacheService, logr)
	billingService := service.NewBillingService(billingRepo, userRepo, cacheService, cfg.Billing.LedgerCacheTTL, logr)

	reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	reportService := service.NewReportService(testRequestRepo, billingRepo, export.NewPDFExporter(), reportStore, signer, userRepo, logr, cfg.Reports.ClinicName, service.WithReportMetrics(metricsService))

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	testRequestHandler := handler.NewTestRequestHandler(workflowService)
	billingHandler := handler.NewBillingHandler(reassignedService, billingService)
	reportHandler := handler.NewReportHandler(reportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auth := r.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		authed := auth.Group("")
		authed.Use(middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	api := r.Group("")
	api.Use(middleware.JWT(authService))

	api.GET("/system/metrics", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), metricsHandler.Summary)

	users := api.Group("/users")
	users.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.POST("", userHandler.Create)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Delete)
	}

	testRequests := api.Group("/test-requests")
	{
		testRequests.POST("", middleware.RequireRoles(models.RoleDoctor, models.RoleAdmin), testRequestHandler.Create)
		testRequests.GET("", testRequestHandler.List)
		testRequests.GET("/:id", testRequestHandler.Get)
		testRequests.POST("/:id/review", middleware.RequireRoles(models.RoleSuperAdmin), testRequestHandler.Review)
		testRequests.POST("/:id/schedule-collection", middleware.RequireRoles(models.RoleLab, models.RoleAdmin, models.RoleSuperAdmin), testRequestHandler.ScheduleCollection)
		testRequests.PUT("/:id/collection-status", middleware.RequireRoles(models.RoleLab, models.RoleAdmin, models.RoleSuperAdmin), testRequestHandler.UpdateCollectionStatus)
		testRequests.POST("/:id/begin-testing", middleware.RequireRoles(models.RoleLab), testRequestHandler.BeginTesting)
		testRequests.POST("/:id/complete-testing", middleware.RequireRoles(models.RoleLab), testRequestHandler.CompleteTesting)
		testRequests.POST("/:id/generate-report", middleware.RequireRoles(models.RoleLab, models.RoleAdmin), testRequestHandler.GenerateReport)
		testRequests.PUT("/:id/send-report", middleware.RequireRoles(models.RoleLab, models.RoleAdmin, models.RoleReceptionist), testRequestHandler.SendReport)
		testRequests.POST("/:id/finalize", middleware.RequireRoles(models.RoleAdmin, models.RoleReceptionist), testRequestHandler.Finalize)
		testRequests.POST("/:id/cancel", middleware.RequireRoles(models.RoleDoctor, models.RoleAdmin, models.RoleSuperAdmin), testRequestHandler.Cancel)

		testRequests.GET("/report-status/:id", reportHandler.Status)
		testRequests.GET("/download-report/:id", reportHandler.Download)
	}

	reassigned := api.Group("/reassigned-patients")
	reassigned.Use(middleware.RequireRoles(models.RoleReceptionist, models.RoleAdmin, models.RoleSuperAdmin))
	{
		reassigned.GET("/billing-status/:patientId/:doctorId", billingHandler.BillingStatus)
		reassigned.POST("/consultation-fee/:patientId/:doctorId", billingHandler.CreateConsultationFee)
	}

	patients := api.Group("/patients")
	{
		patients.GET("/:patientId/billing", billingHandler.Ledger)
		patients.GET("/:patientId/billing/export", middleware.RequireRoles(models.RoleReceptionist, models.RoleAdmin, models.RoleSuperAdmin), middleware.Audit(userRepo, "LEDGER_EXPORT", "billing"), billingHandler.ExportLedger)
	}

	billing := api.Group("/billing")
	billing.Use(middleware.RequireRoles(models.RoleReceptionist, models.RoleAdmin))
	{
		billing.POST("/:id/payments", billingHandler.RecordPayment)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		logr.Sugar().Infow("shutting down")
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
