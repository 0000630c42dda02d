// Package main runs the mock interview platform HTTP server with SSE,
// WebSocket signaling and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mockmate/backend/config"
	"github.com/mockmate/backend/internal/admin"
	"github.com/mockmate/backend/internal/attendance"
	"github.com/mockmate/backend/internal/auth"
	"github.com/mockmate/backend/internal/emaillogs"
	"github.com/mockmate/backend/internal/experts"
	"github.com/mockmate/backend/internal/middleware"
	"github.com/mockmate/backend/internal/notify"
	"github.com/mockmate/backend/internal/payouts"
	"github.com/mockmate/backend/internal/reviews"
	"github.com/mockmate/backend/internal/scheduling"
	"github.com/mockmate/backend/internal/sessions"
	"github.com/mockmate/backend/internal/signaling"
	"github.com/mockmate/backend/internal/worker"
	"github.com/mockmate/backend/pkg/database"
	"github.com/mockmate/backend/pkg/mailer"
	"github.com/mockmate/backend/pkg/queue"
	"github.com/mockmate/backend/pkg/redis"
	"github.com/mockmate/backend/pkg/response"
	"github.com/mockmate/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			UploadsBucket:        cfg.AWS.UploadsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Notification hub: in-process streams plus Redis fanout so every
	// instance delivers to its own connections.
	hub := notify.NewHub(cfg.Hub.GlobalCap, cfg.Hub.PerUserCap, logger)
	fanout, err := notify.NewFanout(hub, rdb.Client, logger)
	if err != nil {
		logger.Fatal("notification fanout", zap.Error(err))
	}
	defer fanout.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx, cfg.Hub.HeartbeatInterval, cfg.Hub.SweepInterval)

	// Call signaling.
	coordinator := signaling.NewCoordinator(logger)
	iceServers := signaling.ICEServersFromURLs(cfg.WebRTC.ICEUrls)

	// Repositories.
	authRepo := auth.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	expertRepo := experts.NewRepository(pool)
	reviewRepo := reviews.NewRepository(pool)
	payoutRepo := payouts.NewRepository(pool)
	attendanceRepo := attendance.NewRepository(pool)
	emailLogRepo := emaillogs.NewRepository(pool)

	// Booking workflow.
	jobQueue := queue.NewQueue(rdb.Client, logger)
	enqueuer := emaillogs.NewEnqueuer(emailLogRepo, jobQueue, logger)
	detector := scheduling.NewDetector(sessionRepo)
	bookingWorkflow := sessions.NewWorkflow(sessionRepo, detector, authRepo, fanout, enqueuer, cfg.Payout.PlatformFeePercent, logger)

	sender := mailer.New(mailer.Config{
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		Username:    cfg.Email.SMTPUser,
		Password:    cfg.Email.SMTPPass,
	}, logger)
	emailProcessor := worker.NewEmailProcessor(emailLogRepo, sender, jobQueue, logger)

	// Attendance rides on the signaling join/leave hooks; the first join
	// also flips the session to in_progress.
	tracker := attendance.NewTracker(attendanceRepo, sessionRepo, logger)
	coordinator.SetSessionHooks(tracker.OnJoin, tracker.OnLeave)

	// Handlers.
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	sessionHandler := sessions.NewHandler(sessionRepo, bookingWorkflow, s3Client, coordinator, logger)
	expertHandler := experts.NewHandler(expertRepo, sessionRepo, detector, logger)
	reviewHandler := reviews.NewHandler(reviewRepo, sessionRepo, logger)
	payoutHandler := payouts.NewHandler(payoutRepo, logger)
	attendanceHandler := attendance.NewHandler(attendanceRepo, sessionRepo, logger)
	emailLogHandler := emaillogs.NewHandler(emailLogRepo, jobQueue, logger)
	adminHandler := admin.NewHandler(pool, authRepo, sessionRepo, hub, coordinator, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}
	authorizeMeeting := func(ctx context.Context, meetingID, userID uuid.UUID) (bool, error) {
		return sessionRepo.IsMeetingParty(ctx, meetingID, userID)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	// Expert directory (public storefront)
	router.GET("/experts", expertHandler.List)
	router.GET("/experts/:id", expertHandler.Get)
	router.GET("/experts/:id/reviews", reviewHandler.ListByExpert)
	router.GET("/experts/:id/availability", expertHandler.Availability)
	router.POST("/experts/:id/availability/check", expertHandler.CheckAvailability)

	// Realtime (token in query; EventSource and WebSocket cannot set headers)
	router.GET("/events", notify.ServeSSE(hub, logger, jwtValidate))
	router.GET("/ws", signaling.ServeWs(coordinator, logger, jwtValidate, authorizeMeeting, iceServers))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", func(c *gin.Context) {
			userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
			user, err := authRepo.GetByID(c.Request.Context(), userID)
			if err != nil {
				response.NotFound(c, "user not found")
				return
			}
			response.OK(c, user.ToPublic())
		})

		// Sessions
		api.POST("/sessions", sessionHandler.Book)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.POST("/sessions/:id/cancel", sessionHandler.Cancel)
		api.POST("/sessions/:id/reschedule", sessionHandler.Reschedule)
		api.POST("/sessions/:id/complete", sessionHandler.Complete)
		api.POST("/sessions/:id/review", reviewHandler.Create)
		api.GET("/sessions/:id/participants", sessionHandler.Participants)
		api.GET("/sessions/:id/attendance", attendanceHandler.ListBySession)

		// Resume sharing
		api.POST("/sessions/:id/resume", sessionHandler.UploadResume)
		api.GET("/sessions/:id/resume", sessionHandler.DownloadResume)
		api.DELETE("/sessions/:id/resume", sessionHandler.RemoveResume)
		api.POST("/sessions/:id/resume/upload-url", sessionHandler.CreateResumeUploadURL)
		api.GET("/sessions/:id/resume/download-url", sessionHandler.GetResumeDownloadURL)

		// Expert self-service
		api.PUT("/experts/me", middleware.RequireRole("expert"), expertHandler.UpdateMe)
		api.GET("/payouts", middleware.RequireRole("expert"), payoutHandler.ListMine)

		// Admin
		adminGroup := api.Group("/admin", middleware.RequireRole("admin"))
		{
			adminGroup.GET("/users", adminHandler.ListUsers)
			adminGroup.PATCH("/users/:id/status", adminHandler.SetUserStatus)
			adminGroup.GET("/sessions", adminHandler.ListSessions)
			adminGroup.GET("/stats", adminHandler.Stats)
			adminGroup.GET("/payouts", payoutHandler.ListAll)
			adminGroup.POST("/payouts/:id/mark-paid", payoutHandler.MarkPaid)
			adminGroup.GET("/emails", emailLogHandler.List)
			adminGroup.POST("/emails/:id/resend", emailLogHandler.Resend)
		}
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// WriteTimeout would cut long-lived SSE streams; rely on the hub's
		// heartbeat and sweep to reap dead ones instead.
	}

	// Background worker (queued email delivery)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go emailProcessor.Run(workerCtx)
	logger.Info("email worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	hubCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
