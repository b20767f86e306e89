package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proctorview/playback/internal/cache"
	"github.com/proctorview/playback/internal/config"
	"github.com/proctorview/playback/internal/database"
	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
	"github.com/proctorview/playback/internal/middleware"
	"github.com/proctorview/playback/internal/review"
	"github.com/proctorview/playback/internal/storage"
)

// API bundles the handler dependencies
type API struct {
	repo     *database.Repository
	storage  *storage.Storage
	cache    *cache.Cache
	registry *review.Registry
	log      *logging.Logger
}

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	// Initialize JWT secret from config
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize storage
	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize cache
	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Initialize session registry
	registry := review.NewRegistry(stor, redisCache, cfg, http.DefaultClient, log)
	defer registry.CloseAll()

	// Start metrics server
	metricsSrv := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server error: %v", err)
		}
	}()

	api := &API{
		repo:     repo,
		storage:  stor,
		cache:    redisCache,
		registry: registry,
		log:      log,
	}

	// Setup router
	router := setupRouter(api, cfg, log)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Starting review API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Metrics server shutdown error: %v", err)
	}

	log.Info("Server stopped")
}

func setupRouter(api *API, cfg *config.Config, log *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))

	// Health check
	router.GET("/health", api.healthCheck)

	rl := middleware.NewRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth())
	v1.Use(middleware.RateLimit(rl))
	{
		// Interviews
		v1.GET("/interviews", api.listInterviews)
		v1.GET("/interviews/:id", api.getInterview)
		v1.GET("/interviews/:id/anomalies", api.listAnomalies)

		// Review sessions
		v1.POST("/sessions", api.createSession)
		v1.GET("/sessions", api.listSessions)
		v1.GET("/sessions/:id", api.getSessionState)
		v1.DELETE("/sessions/:id", api.closeSession)

		// Playback control
		v1.POST("/sessions/:id/play", api.play)
		v1.POST("/sessions/:id/pause", api.pause)
		v1.POST("/sessions/:id/seek", api.seek)
		v1.POST("/sessions/:id/seek-anomaly", api.seekToAnomaly)

		// Live status
		v1.GET("/sessions/:id/live", api.liveStatus)
	}

	return router
}
