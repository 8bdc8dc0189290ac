package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/models"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/mmdatafocus/kardex_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter is a fixed-window counter per client IP.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = utils.NewCorrelationId()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// readinessGate answers /healthz itself and returns 503 until ready reports true.
func readinessGate(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service starting"})
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// In production the allowlist is explicit; empty denies all.
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		cfg.AllowOrigins = config.CorsAllowedOrigins()
		if len(cfg.AllowOrigins) == 0 {
			cfg.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	cfg.AllowCredentials = !cfg.AllowAllOrigins
	return cfg
}

func newRouter(api *costingAPI, logger *logrus.Logger, limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(correlationIdMiddleware())
	r.Use(readinessGate(api.ready))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(cors.New(corsConfig()))
	if limiter != nil {
		r.Use(limiter.RateLimitMiddleware)
	}
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	api.register(r)
	r.NoRoute(customNotFoundHandler)
	return r
}

// rateLimiterFromEnv is enabled by RATE_LIMIT_ENABLED=true. Requests pass
// unlimited while Redis is unavailable.
// RATE_LIMIT_MAX_REQUESTS (default 600) per RATE_LIMIT_WINDOW_SECONDS (default 60).
func rateLimiterFromEnv(client func() *redis.Client) *RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
}

func main() {
	port := config.Port()
	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen first; app endpoints answer 503 until the workflow is installed.
	api := newCostingAPI(logger)
	r := newRouter(api, logger, rateLimiterFromEnv(config.GetRedisDB))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate runs DDL; large deployments migrate with kardex-seed instead.
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	wf, err := workflow.NewFromConfig(logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "workflow"}).Fatal(err.Error())
	}
	api.setWorkflow(wf)

	var scheduler *workflow.Scheduler
	if spec := config.CostingCron(); spec != "" {
		scheduler = workflow.NewScheduler(wf, logger)
		if err := scheduler.Schedule(spec); err != nil {
			logger.WithFields(logrus.Fields{"field": "scheduler", "cron": spec}).Error("invalid COSTING_CRON: " + err.Error())
			scheduler = nil
		} else {
			scheduler.Start()
		}
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("kardex backend listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop scheduling before draining; a running job finishes first.
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client()
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis trouble must not take the API down.
		c.Next()
		return
	}
	if count == 1 {
		client.Expire(c.Request.Context(), key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}
