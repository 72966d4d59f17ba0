package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/service"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/timeseries"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  Arbiter - Open Cloud Ops AI Request Router")
	fmt.Println("==============================================")

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	fmt.Printf("Starting server on port %s...\n", cfg.Port)

	// Initialize database connection.
	db, err := database.New(cfg.DSN())
	if err != nil {
		log.Printf("WARNING: Database unavailable (%v). Model catalog and decision audit will not persist.", err)
		db = nil
	} else {
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Database connected and migrations applied.")
	}

	// Initialize the metric store. Redis when reachable, in-memory otherwise.
	var (
		store   timeseries.Store
		limiter timeseries.RateLimiter
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisStore, err := timeseries.NewRedisStore(ctx, cfg.RedisAddr(), cfg.RedisPassword)
	cancel()
	if err != nil {
		log.Printf("WARNING: Redis unavailable (%v). Metrics and rate limits are in-memory only.", err)
		store = timeseries.NewMemoryStore()
		limiter = timeseries.NewMemoryRateLimiter()
	} else {
		defer redisStore.Close()
		store = redisStore
		limiter = timeseries.NewRedisRateLimiter(redisStore.Client())
	}

	// Initialize the routing service.
	svc, err := service.New(cfg, store, limiter, db, nil)
	if err != nil {
		log.Fatalf("Failed to initialize routing service: %v", err)
	}

	handlers := api.NewHandlers(svc, db)

	// Set up Gin router.
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())

	// CORS for dashboard.
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Admin-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check.
	r.GET("/health", handlers.HealthCheck)

	// Routing endpoint, the core service.
	routeGroup := r.Group("/v1")
	routeGroup.Use(middleware.RateLimitMiddleware(limiter, 300, time.Minute))
	{
		routeGroup.POST("/route", handlers.Route)
	}

	// API v1 routes (protected by admin API key).
	// Fail-secure: if no key is configured, block all management requests.
	v1 := r.Group("/api/v1")
	if cfg.AdminAPIKey != "" {
		v1.Use(middleware.AdminAuthMiddleware(cfg.AdminAPIKey))
		log.Println("Management API authentication enabled.")
	} else {
		log.Println("WARNING: ARBITER_ADMIN_API_KEY not set. Management API is disabled (fail-secure).")
		v1.Use(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management API disabled: ARBITER_ADMIN_API_KEY not configured"})
		})
	}
	{
		// Model catalog.
		v1.GET("/models", handlers.ListModels)
		v1.POST("/models", handlers.RegisterModel)
		v1.GET("/models/:id", handlers.GetModel)
		v1.DELETE("/models/:id", handlers.UnregisterModel)
		v1.GET("/models/:id/health", handlers.GetModelHealth)

		// Monitoring.
		v1.GET("/health/models", handlers.GetAllModelHealth)
		v1.GET("/stats", handlers.GetStats)
		v1.GET("/usage/summary", handlers.GetUsageSummary)
		v1.GET("/decisions/recent", handlers.GetRecentDecisions)

		// Configuration hot-reload.
		v1.PUT("/config", handlers.UpdateConfig)
	}

	// Start HTTP server with graceful shutdown.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Arbiter routing engine is ready on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	svc.Shutdown(shutdownCtx)
	log.Println("Server exited.")
}
