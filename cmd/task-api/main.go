package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ems-pm/project/internal/app/notify"
	"github.com/ems-pm/project/internal/app/push"
	"github.com/ems-pm/project/internal/app/tasks"
	"github.com/ems-pm/project/internal/app/taskstore"
	"github.com/ems-pm/project/internal/platform/config"
	"github.com/ems-pm/project/internal/platform/dbpool"
	"github.com/ems-pm/project/internal/platform/httpx"
	"github.com/ems-pm/project/internal/platform/logging"
	"github.com/ems-pm/project/internal/platform/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(runCtx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("open postgres pool", zap.Error(err))
	}
	defer pool.Close()

	store := taskstore.NewPostgresStore(pool, logger.Named("taskstore"))
	if err := dbpool.WaitReady(runCtx, pool, store.EnsureSchema, 30*time.Second, logger); err != nil {
		logger.Fatal("postgres schema not ready", zap.Error(err))
	}

	backend, err := notify.Open(runCtx, cfg, "task-api", logger)
	if err != nil {
		logger.Fatal("open notify backend", zap.Error(err))
	}
	defer backend.Close()

	notifier := notify.NewNotifier(backend.Broker, logger.Named("notify"))
	service := tasks.NewService(store, notifier, logger.Named("tasks"))
	hub := push.NewHub(backend.Broker, logger.Named("push"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.AccessLog(logger.Named("http")))
	r.Use(metrics.Middleware)
	r.Use(httpx.CORS(cfg.ClientURL))

	r.Get("/healthz", httpx.Healthz)
	r.Get("/readyz", httpx.Readyz(httpx.PoolCheck(pool), backend.Ready))
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/tasks", tasks.NewHandler(service, logger.Named("tasks")).Router())
	r.Mount("/socket", push.NewHandler(hub, cfg.PushKeepAlive, logger.Named("push")).Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays unset: /socket/events streams indefinitely.
		IdleTimeout: 120 * time.Second,
	}

	logger.Info("task api listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("notify_backend", backend.Name),
	)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Fatal("task api server failed", zap.Error(err))
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("task api graceful shutdown failed", zap.Error(err))
	}
}
