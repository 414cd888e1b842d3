package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codeMaster/reqtrace/internal/config"
	"github.com/codeMaster/reqtrace/internal/hub"
	"github.com/codeMaster/reqtrace/internal/mcptools"
	"github.com/codeMaster/reqtrace/internal/notify"
	"github.com/codeMaster/reqtrace/internal/pool"
	"github.com/codeMaster/reqtrace/internal/refine"
	"github.com/codeMaster/reqtrace/internal/router"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/codeMaster/reqtrace/internal/storage"
	"github.com/codeMaster/reqtrace/internal/validation"
	"github.com/codeMaster/reqtrace/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "reqtrace",
		Short:   "Requirements tracker with hierarchy, traces and live updates",
		Version: version,
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, newLogger(os.Stderr, cfg.Log))
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config.yaml (defaults and REQTRACE_* env only when empty)")
	return cmd
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)

	// Storage
	backend, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()

	// Event log: redis when enabled, otherwise in process
	instance := uuid.NewString()
	var eventLog hub.EventLog = hub.NewMemoryLog(cfg.Hub.LogSize)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		eventLog = hub.NewRedisLog(rdb, instance, cfg.Redis.MaxEvents, cfg.Redis.EventTTL)
	}

	// Core components
	eventHub := hub.New(hub.Options{
		BufferSize:   cfg.Hub.BufferSize,
		WriteTimeout: cfg.Hub.WriteTimeout,
		Log:          eventLog,
		Logger:       logger,
		InstanceID:   instance,
	})
	workers := pool.New(cfg.Validation.Workers, 0)
	defer workers.Shutdown()

	var refiner refine.Refiner = refine.Disabled{}
	if cfg.Refine.Enabled() {
		refiner = refine.NewOpenAI(cfg.Refine.BaseURL, cfg.Refine.APIKey, cfg.Refine.Model, cfg.Refine.Timeout)
	}

	store := service.NewStore(service.Options{
		Backend:   backend,
		Notifier:  notify.NewLogging(eventHub, logger),
		Validator: validation.New(cfg.Validation.PassThreshold),
		Refiner:   refiner,
		Pool:      workers,
		Logger:    logger,
	})
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	logger.Info("store loaded", "driver", cfg.Storage.Driver, "projects", store.ProjectCount())

	// Gin engine
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Store: store,
		Hub:   eventHub,
		WS: ws.NewServer(eventHub, store, ws.Options{
			WriteTimeout: cfg.Server.WriteTimeout,
			PingInterval: cfg.Server.PingInterval,
			Version:      version,
			Logger:       logger,
		}),
		Logger:  logger,
		Version: version,
		MCP:     mcptools.Handler(mcptools.NewServer(store, version)),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "instance", instance, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server run: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
