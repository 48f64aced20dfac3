package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/store"
)

// API is the read-side ops surface: recent attendance, health, metrics, and a
// live SSE stream fed by the listener through redis pub/sub.
func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	repo := attendance.NewRepository(db.Client)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Gin())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisOK := redisClient.Healthy(c.Request.Context())
		dbOK := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisOK || !dbOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"redis": redisOK, "db": dbOK})
	})

	r.GET("/v1/attendance/students", func(c *gin.Context) {
		records, err := repo.ListStudentRecords(c.Request.Context(), c.Query("date"), c.Query("status"), intQuery(c, "limit"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	r.GET("/v1/attendance/teachers", func(c *gin.Context) {
		records, err := repo.ListTeacherRecords(c.Request.Context(), c.Query("date"), c.Query("status"), intQuery(c, "limit"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	// Live attendance updates as server-sent events. Each connection gets its
	// own redis subscription; joining late means missing earlier updates.
	r.GET("/v1/live", func(c *gin.Context) {
		sub := redisClient.Client.Subscribe(c.Request.Context(), cfg.LiveChannel)
		defer sub.Close()
		ch := sub.Channel()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case msg, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent("attendance_update", msg.Payload)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("api server started", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "error", err)
	}
	logger.Info("api server exited")
}

func intQuery(c *gin.Context, key string) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return 0
}
