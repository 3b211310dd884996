// Package main runs the live classroom HTTP server with WebSocket signaling
// and graceful shutdown.
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

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/auth"
	"github.com/classlive/backend/internal/live"
	"github.com/classlive/backend/internal/livestore"
	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/internal/sessions"
	"github.com/classlive/backend/internal/transport"
	"github.com/classlive/backend/internal/worker"
	"github.com/classlive/backend/pkg/database"
	"github.com/classlive/backend/pkg/queue"
	"github.com/classlive/backend/pkg/redis"
	"github.com/classlive/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	store := livestore.NewStore(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	flusher := worker.NewQueueFlusher(jobQueue, logger)
	pubsub := transport.NewPubSub(rdb.Client, logger)

	manager := live.NewManager(cfg.Session, cfg.WebRTC.ICEServers, store, flusher, pubsub, logger)
	hub := transport.NewHub(manager, pubsub, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Sessions
	sessionHandler := sessions.NewHandler(manager, store, logger)

	validate := func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.FullName, nil
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
		// Session lifecycle
		api.POST("/sessions", middleware.RequireRole("admin", "teacher"), sessionHandler.Schedule)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.GET("/sessions/:id", sessionHandler.Get)

		// Live state
		api.GET("/sessions/:id/roster", sessionHandler.Roster)
		api.GET("/sessions/:id/reconnect-token", sessionHandler.ReconnectToken)

		// Waiting room moderation
		api.GET("/sessions/:id/waiting", sessionHandler.WaitingList)
		api.POST("/sessions/:id/waiting/:identity/admit", sessionHandler.Admit)
		api.POST("/sessions/:id/waiting/:identity/deny", sessionHandler.Deny)

		// Participant moderation
		api.POST("/sessions/:id/participants/:identity/promote", sessionHandler.Promote)
		api.POST("/sessions/:id/participants/:identity/room", sessionHandler.Reassign)

		// Polls
		api.POST("/sessions/:id/polls", sessionHandler.OpenPoll)
		api.POST("/sessions/:id/polls/:pollId/close", sessionHandler.ClosePoll)
		api.GET("/sessions/:id/polls/:pollId/tally", sessionHandler.PollTally)

		// Questions
		api.GET("/sessions/:id/questions", sessionHandler.Questions)
		api.POST("/sessions/:id/questions/:questionId/answer", sessionHandler.AnswerQuestion)

		// Breakout rooms
		api.POST("/sessions/:id/rooms", sessionHandler.CreateBreakouts)
		api.POST("/sessions/:id/rooms/close", sessionHandler.CloseBreakouts)
		api.GET("/sessions/:id/rooms", sessionHandler.Rooms)

		// Reporting
		api.GET("/sessions/:id/attendance", sessionHandler.Attendance)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", transport.ServeWs(hub, manager, validate, logger))

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
