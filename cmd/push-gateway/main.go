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
	"github.com/ems-pm/project/internal/platform/config"
	"github.com/ems-pm/project/internal/platform/httpx"
	"github.com/ems-pm/project/internal/platform/logging"
	"github.com/ems-pm/project/internal/platform/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// push-gateway serves only the push channel. It shares events with task-api
// processes through nats or redis, so the local backend is refused.
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

	if cfg.NotifyBackend == config.BackendLocal {
		logger.Fatal("push-gateway requires NOTIFY_BACKEND=nats or redis")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := notify.Open(runCtx, cfg, "push-gateway", logger)
	if err != nil {
		logger.Fatal("open notify backend", zap.Error(err))
	}
	defer backend.Close()

	hub := push.NewHub(backend.Broker, logger.Named("push"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(httpx.CORS(cfg.ClientURL))

	r.Get("/healthz", httpx.Healthz)
	r.Get("/readyz", httpx.Readyz(backend.Ready))
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/socket", push.NewHandler(hub, cfg.PushKeepAlive, logger.Named("push")).Router())

	server := &http.Server{
		Addr:              cfg.PushAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("push gateway listening", zap.String("addr", cfg.PushAddr), zap.String("notify_backend", backend.Name))
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Fatal("push gateway server failed", zap.Error(err))
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("push gateway graceful shutdown failed", zap.Error(err))
	}
}
