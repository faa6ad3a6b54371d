package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callwatch/internal/audit"
	"callwatch/internal/broadcast"
	"callwatch/internal/config"
	"callwatch/internal/dispatch"
	"callwatch/internal/history"
	"callwatch/internal/httpapi"
	"callwatch/internal/ingest"
	"callwatch/internal/kafka"
	"callwatch/internal/registry"
	"callwatch/internal/stats"
	"callwatch/pkg/logger"
	"callwatch/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local convenience; env wins over the file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// History backing store: postgres when configured, in-memory otherwise.
	var repo history.Repository
	if cfg.DB.Enabled() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		repo = history.NewPostgresRepo(db)
		log.Info("call history backed by postgres")
	} else {
		repo = history.NewMemoryRepo()
		log.Info("call history kept in memory")
	}
	archive := history.NewService(repo)

	// Fleet-wide concurrent-call cap, only with redis.
	var callCap httpapi.CallCap
	if cfg.Redis.Enabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		callCap = utils.NewCallCap(rdb, "", cfg.Redis.MaxConcurrentCalls, 0)
		log.Info("concurrent-call cap enabled", "limit", cfg.Redis.MaxConcurrentCalls)
	}

	// Finalized calls go to kafka when brokers are configured.
	var publisher ingest.ArchivePublisher
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer producer.Close()
		publisher = producer
		log.Info("finalized-call publisher enabled", "topic", cfg.Kafka.Topic)
	}

	store := registry.New(time.Now)
	statsSvc := stats.NewService(store, archive)
	hub := broadcast.NewHub(
		broadcast.StoreSources(store, archive, statsSvc, cfg.History.Limit),
		cfg.Broadcast.MetricsQueueLimit,
		log,
	)
	ingestSvc := ingest.NewService(store, archive, hub, publisher, log)
	dispatcher := dispatch.NewHTTPDispatcher(cfg.Agent.URL, cfg.Agent.Name)
	auditTrail := audit.NewService(audit.NewMemoryRepo())

	h := httpapi.Handlers{
		Store:        store,
		History:      archive,
		Stats:        statsSvc,
		Ingest:       ingestSvc,
		Hub:          hub,
		Dispatcher:   dispatcher,
		Cap:          callCap,
		AgentName:    cfg.Agent.Name,
		Audit:        auditTrail,
		HistoryLimit: cfg.History.Limit,
		Log:          log,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h)

	// No read/write timeouts on the server: /ws and /ws/agent hold their
	// connections open indefinitely.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
