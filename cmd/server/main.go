package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hiroki-koketsu/taskboard/internal/auth"
	"github.com/hiroki-koketsu/taskboard/internal/config"
	"github.com/hiroki-koketsu/taskboard/internal/handler"
	"github.com/hiroki-koketsu/taskboard/internal/repository"
	"github.com/hiroki-koketsu/taskboard/internal/service"
	"github.com/hiroki-koketsu/taskboard/internal/telemetry"
	"github.com/hiroki-koketsu/taskboard/internal/validation"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

func main() {
	// Plain stdout logger until telemetry is up.
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, bootLogger); err != nil {
		bootLogger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

// run wires the task API from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, bootLogger *slog.Logger) error {
	bootLogger.Info("starting taskboard",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.Bool("otel_enabled", cfg.OTelEnabled),
	)

	logger := telemetry.NewJSONLogger(os.Stdout, cfg.LogLevel)

	if cfg.OTelEnabled {
		providers, err := telemetry.Setup(ctx, telemetry.Settings{
			ServiceName:    cfg.ServiceName,
			Environment:    cfg.Environment,
			Endpoint:       cfg.OTLPEndpoint,
			ExportInterval: cfg.ExportInterval,
		})
		if err != nil {
			return fmt.Errorf("telemetry setup: %w", err)
		}
		defer func() {
			// ctx is already cancelled here; give exporters their own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := providers.Shutdown(flushCtx); err != nil {
				bootLogger.Error("telemetry shutdown", slog.Any("error", err))
			}
		}()
		logger = providers.Log
	}

	store := repository.NewTaskRepository(cfg.MaxTasks)

	metrics, err := telemetry.NewMetrics(otel.Meter(cfg.ServiceName), store.Count)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenLifetime)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	tasks := service.NewTaskService(store, validation.New(), logger)
	router := handler.NewRouter(handler.NewTaskHandler(tasks, logger, metrics), tokens, logger, cfg.RequestTimeout)

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: otelhttp.NewHandler(router, "taskboard",
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health"
			}),
		),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", server.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
