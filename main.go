package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/workich/backend/internal/config"
	"github.com/workich/backend/internal/db"
	"github.com/workich/backend/internal/handler"
	"github.com/workich/backend/internal/service"
	"github.com/workich/backend/internal/session"
	"github.com/workich/backend/internal/token"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(startCtx, cfg.Postgres)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()

	pg := db.New(pool)
	if err := pg.EnsureSchema(startCtx); err != nil {
		logger.Fatal("schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(startCtx).Err(); err != nil {
		logger.Fatal("redis", zap.Error(err))
	}

	sessions := session.NewStore(redisClient, cfg.Auth.RefreshTTL)
	tokens := token.NewAuthority([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL, cfg.Auth.RefreshTokenBytes)
	authSvc := service.NewAuthService(pg, sessions, tokens, logger)

	router := newRouter(cfg, authSvc, logger)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newRouter(cfg config.Config, authSvc *service.AuthService, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestLogger(logger))
	router.Use(handler.CORSMiddleware(cfg.HTTP.AllowedOrigins))

	router.GET("/", handler.Root)
	router.GET("/ping", handler.Ping)

	authHandler := handler.NewAuthHandler(authSvc)
	auth := router.Group("/api/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	protected := auth.Group("")
	protected.Use(handler.AuthMiddleware(authSvc))
	protected.POST("/logout", authHandler.Logout)
	protected.POST("/logout-all", authHandler.LogoutAll)
	protected.GET("/me", authHandler.Me)
	protected.GET("/sessions", authHandler.Sessions)

	return router
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
