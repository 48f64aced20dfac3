package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/broker"
	"qrattend/internal/config"
	"qrattend/internal/directory"
	"qrattend/internal/ingest"
	"qrattend/internal/notify"
	"qrattend/internal/store"
	"qrattend/internal/sweep"
	"qrattend/internal/timetable"
)

// Listener is the long-lived reconciliation daemon: it consumes scan events
// from the MQTT broker, writes attendance decisions, runs the absence sweep,
// and mirrors live updates onto redis for the ops API.
func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	loc := cfg.Location()

	dir := directory.NewRepository(db.Client)
	tt := timetable.NewRepository(db.Client)
	ledgerRepo := attendance.NewRepository(db.Client)
	ledger := attendance.NewService(ledgerRepo, cfg.DBTimeout, cfg.UpsertAttempts, logger)

	policy := attendance.GracePolicy{
		PresentGrace: cfg.PresentGrace,
		LateGrace:    cfg.LateGrace,
		TeacherGrace: cfg.TeacherGrace,
	}

	hub := notify.NewHub(logger)
	defer hub.Close()

	bridge := notify.NewRedisBridge(redisClient.Client, cfg.LiveChannel, hub, "attendance", logger)
	go bridge.Run(ctx)

	src := broker.NewMQTT(cfg.BrokerURL, cfg.MQTTClientID, []string{cfg.StudentTopic, cfg.TeacherTopic}, logger)
	if err := src.Connect(); err != nil {
		logger.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	listener := ingest.NewListener(src, dir, tt, ledger, hub, ingest.Topics{
		Student: cfg.StudentTopic,
		Teacher: cfg.TeacherTopic,
		Live:    "attendance",
	}, policy, loc, logger)
	listener.Start(ctx)
	defer listener.Stop()

	sweeper := sweep.NewSweeper(tt, dir, ledger, cfg.LatenessWindow, cfg.SweepInterval, loc, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := opsServer(cfg, src, redisClient, db)
	go func() {
		logger.Info("listener ops server started", "port", cfg.ListenerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("listener exited")
}

// opsServer exposes health and metrics for the daemon.
func opsServer(cfg config.App, src *broker.MQTT, redisClient *store.Redis, db *store.DB) *http.Server {
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		mqttOK := src.Connected()
		redisOK := redisClient.Healthy(c.Request.Context())
		dbOK := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !mqttOK || !dbOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"mqtt": mqttOK, "redis": redisOK, "db": dbOK})
	})

	return &http.Server{
		Addr:         ":" + cfg.ListenerPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
