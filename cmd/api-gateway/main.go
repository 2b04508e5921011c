package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/reftrack-api/internal/handler"
	"github.com/noah-isme/reftrack-api/internal/middleware"
	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/internal/repository"
	"github.com/noah-isme/reftrack-api/internal/service"
	"github.com/noah-isme/reftrack-api/pkg/cache"
	"github.com/noah-isme/reftrack-api/pkg/config"
	"github.com/noah-isme/reftrack-api/pkg/database"
	"github.com/noah-isme/reftrack-api/pkg/jobs"
	"github.com/noah-isme/reftrack-api/pkg/logger"
	"github.com/noah-isme/reftrack-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/reftrack-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/reftrack-api/pkg/middleware/requestid"
)

// @title RefTrack API
// @version 1.0.0
// @description Distribution and movement workflow engine for references and forms
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
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, holder cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	mailSender, err := mailer.NewSMTPSender(cfg.Mail, logr)
	if err != nil {
		logr.Sugar().Warnw("mailer unavailable, emails disabled", "error", err)
		mailSender = &mailer.NopSender{}
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	refRepo := repository.NewReferenceRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	auditSvc := service.NewAuditService(auditRepo, logr)
	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
	})
	notifySvc := service.NewNotifyService(notificationRepo, userRepo, mailSender, metricsSvc, logr)
	movementSvc := service.NewMovementService(movementRepo, metricsSvc, cfg.Workflow.RemarkMaxLen, logr)
	recipientSvc := service.NewRecipientService(userRepo, logr)
	taskSvc := service.NewTaskService(taskRepo, logr)
	refSvc := service.NewReferenceService(refRepo, movementSvc, userRepo, notifySvc, auditSvc, cacheRepo, cfg.Workflow, validate, logr)
	reopenSvc := service.NewReopenService(refSvc, refRepo, movementSvc, notifySvc, auditSvc, logr)

	// The queue handler delegates to the distribution service, which in turn
	// enqueues through the same queue. Bind the handler through a pointer that
	// is assigned right after both exist.
	var distSvc *service.DistributionService
	queue := jobs.NewQueue("distribution", func(ctx context.Context, job jobs.Job) error {
		return distSvc.Handle(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Distribution.WorkerConcurrency,
		BufferSize: cfg.Distribution.QueueBuffer,
		MaxRetries: cfg.Distribution.WorkerRetries,
		Logger:     logr,
	})
	distSvc = service.NewDistributionService(taskSvc, recipientSvc, notifySvc, userRepo, refRepo, queue, auditSvc, metricsSvc, cfg.Distribution.BatchSize, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	refHandler := handler.NewReferenceHandler(refSvc, reopenSvc, movementSvc)
	distHandler := handler.NewDistributionHandler(distSvc, taskSvc)
	notificationHandler := handler.NewNotificationHandler(notifySvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.POST("/references", refHandler.Create)
		protected.GET("/references", refHandler.List)
		protected.GET("/references/:id", refHandler.Get)
		protected.POST("/references/:id/move", refHandler.Move)
		protected.POST("/references/:id/remind",
			middleware.Audit(auditRepo, models.AuditActionReferenceRemind, "reference"),
			refHandler.Remind)
		protected.GET("/references/:id/movements", refHandler.History)
		protected.POST("/references/:id/reopen", refHandler.RequestReopen)
		protected.POST("/references/:id/reopen/resolve", refHandler.ResolveReopen)

		admin := protected.Group("")
		admin.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
		{
			admin.PUT("/references/:id/hidden", refHandler.SetHidden)
			admin.PUT("/references/:id/archived", refHandler.SetArchived)
		}

		protected.POST("/distributions", distHandler.Distribute)
		protected.GET("/tasks/:id", distHandler.TaskStatus)

		protected.GET("/notifications", notificationHandler.List)
		protected.PUT("/notifications/:id/read", notificationHandler.MarkRead)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(rootCtx)
	distSvc.RecoverPending(rootCtx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
	queue.Stop()
	logr.Sugar().Infow("server stopped")
}
