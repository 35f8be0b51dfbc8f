// Package main runs the caredesk HTTP server with WebSocket and graceful shutdown.
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

	"github.com/caredesk/backend/config"
	"github.com/caredesk/backend/internal/attachments"
	"github.com/caredesk/backend/internal/auth"
	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/availability"
	"github.com/caredesk/backend/internal/comments"
	"github.com/caredesk/backend/internal/dispatch"
	"github.com/caredesk/backend/internal/invites"
	"github.com/caredesk/backend/internal/middleware"
	"github.com/caredesk/backend/internal/notifications"
	"github.com/caredesk/backend/internal/organizations"
	"github.com/caredesk/backend/internal/realtime"
	"github.com/caredesk/backend/internal/tickets"
	"github.com/caredesk/backend/pkg/database"
	"github.com/caredesk/backend/pkg/queue"
	"github.com/caredesk/backend/pkg/redis"
	"github.com/caredesk/backend/pkg/response"
	"github.com/caredesk/backend/pkg/storage"
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
			AttachmentsBucket:    cfg.AWS.AttachmentsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Organizations and dispatch
	orgRepo := organizations.NewRepository(pool)
	availRepo := availability.NewRepository(pool)
	rotation := dispatch.NewRedisRotationQueue(rdb.Client, logger)
	dispatcher := dispatch.NewDispatcher(orgRepo, orgRepo, availRepo, rotation,
		time.Duration(cfg.Dispatch.StoreTimeoutMS)*time.Millisecond, logger)
	orgHandler := organizations.NewHandler(orgRepo, dispatcher, logger)
	availHandler := availability.NewHandler(availRepo, orgRepo)

	// Invites
	inviteRepo := invites.NewRepository(pool)
	inviteHandler := invites.NewHandler(inviteRepo, orgRepo, availRepo, dispatcher, jobQueue,
		cfg.Dispatch.DefaultMaxTickets, logger)

	// Tickets
	ticketRepo := tickets.NewRepository(pool)
	ticketHandler := tickets.NewHandler(ticketRepo, orgRepo, availRepo, dispatcher, jobQueue, hub, logger)

	// Comments
	commentRepo := comments.NewRepository(pool)
	commentHandler := comments.NewHandler(commentRepo, ticketRepo, orgRepo, hub)

	// Attachments (S3-backed)
	attachmentRepo := attachments.NewRepository(pool)
	var attachmentHandler *attachments.Handler
	if s3Client != nil {
		attachmentHandler = attachments.NewHandler(attachmentRepo, ticketRepo, orgRepo, s3Client, logger)
	}

	// Notifications
	notifRepo := notifications.NewRepository(pool)
	notifHandler := notifications.NewHandler(notifRepo)

	validateToken := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}
	canViewTicket := func(c *gin.Context, ticketID, userID uuid.UUID) bool {
		t, err := ticketRepo.GetByID(c.Request.Context(), ticketID)
		if err != nil {
			return false
		}
		role, err := orgRepo.GetUserRole(c.Request.Context(), t.OrganizationID, userID)
		if err != nil {
			role = authz.RoleNone
		}
		d := authz.Authorize(
			authz.Principal{UserID: userID, OrganizationID: t.OrganizationID, Role: role},
			authz.ActionView,
			authz.TicketFacts{
				OrganizationID:  t.OrganizationID,
				CustomerID:      t.CustomerID,
				AssignedAgentID: t.AssignedAgentID,
				Status:          t.Status,
			})
		return d.Allowed
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
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		// Organizations
		api.GET("/organizations", orgHandler.ListMyOrganizations)
		api.POST("/organizations", orgHandler.CreateOrganization)
		api.GET("/organizations/:id/members", orgHandler.ListMembers)
		api.PUT("/organizations/:id/assignment-settings", orgHandler.UpdateAssignmentSettings)
		api.POST("/organizations/:id/rotation/rebuild", orgHandler.RebuildRotation)

		// Agent availability
		api.GET("/organizations/:id/availability", availHandler.List)
		api.PUT("/organizations/:id/availability", availHandler.UpdateSelf)

		// Invites
		api.POST("/organizations/:id/invites", inviteHandler.Create)
		api.GET("/organizations/:id/invites", inviteHandler.ListByOrg)
		api.GET("/invites", inviteHandler.ListMine)
		api.POST("/invites/:token/accept", inviteHandler.Accept)
		api.POST("/invites/:token/reject", inviteHandler.Reject)

		// Tickets
		api.POST("/organizations/:id/tickets", ticketHandler.Create)
		api.GET("/organizations/:id/tickets", ticketHandler.List)
		api.GET("/tickets/:id", ticketHandler.Get)
		api.PATCH("/tickets/:id", ticketHandler.Update)
		api.DELETE("/tickets/:id", ticketHandler.Delete)
		api.GET("/tickets/:id/history", ticketHandler.History)

		// Comments
		api.GET("/tickets/:id/comments", commentHandler.List)
		api.POST("/tickets/:id/comments", commentHandler.Create)

		// Attachments (registered only when S3 is configured)
		if attachmentHandler != nil {
			api.POST("/tickets/:id/attachments", attachmentHandler.Upload)
			api.GET("/tickets/:id/attachments", attachmentHandler.List)
			api.DELETE("/tickets/:id/attachments/:attachment_id", attachmentHandler.Delete)
		}

		// Notifications
		api.GET("/notifications", notifHandler.List)
		api.GET("/notifications/unread-count", notifHandler.UnreadCount)
		api.PUT("/notifications/:id/read", notifHandler.MarkRead)
		api.PUT("/notifications/read-all", notifHandler.MarkAllRead)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, validateToken, canViewTicket))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

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
