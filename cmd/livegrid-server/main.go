// Package main is the livegrid server: the camera and stream control API, the
// live websocket hub and the embedded event bus
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Spatial-NVR/livegrid/internal/api"
	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/config"
	"github.com/Spatial-NVR/livegrid/internal/core"
	"github.com/Spatial-NVR/livegrid/internal/database"
	"github.com/Spatial-NVR/livegrid/internal/logging"
	"github.com/Spatial-NVR/livegrid/internal/metrics"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := findConfigFile()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logs := logging.NewRingBuffer(2000)
	logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, logs)
	slog.SetDefault(logger)

	slog.Info("Starting livegrid server",
		"version", version,
		"address", cfg.Server.Address,
		"config_path", configPath,
		"nats_port", cfg.Server.NATSPort,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	dbConfig := database.DefaultConfig(cfg.Server.DataDir)
	dbConfig.Path = cfg.Server.DatabasePath
	db, err := database.Open(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	bus, err := core.NewEventBus(core.EventBusConfig{
		Host: cfg.Server.NATSHost,
		Port: cfg.Server.NATSPort,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer bus.Stop()

	cameras := camera.NewService(db)
	cameras.SetPublisher(bus)
	if err := cameras.SyncFromConfig(ctx, cfg.Cameras); err != nil {
		return err
	}

	collector := metrics.New(cfg.Server.MetricsPrefix)

	hub := api.NewHub(cameras, collector)
	hub.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	if err := hub.AttachBus(bus); err != nil {
		return fmt.Errorf("failed to attach hub to event bus: %w", err)
	}
	go hub.Run(ctx)

	system := api.NewSystemHandler(logs)
	system.AddCheck("database", db.Health)
	system.AddCheck("event_bus", bus.HealthCheck)

	if cfg.Path() != "" {
		cfg.OnChange(func(c *config.Config) {
			hub.SetAllowedOrigins(c.Server.AllowedOrigins)
			if err := cameras.SyncFromConfig(ctx, c.Cameras); err != nil {
				slog.Error("Failed to sync cameras after reload", "error", err)
			}
		})
		if err := cfg.Watch(ctx); err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		}
	}

	server := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     setupRouter(cfg, cameras, hub, system, collector),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
	return nil
}

// loadConfig loads the config file, or the defaults when there is none
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default()
		cfg.SetPath(path)
		return cfg, nil
	}
	return config.Load(path)
}

// findConfigFile looks for the config file in the usual locations
func findConfigFile() string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	dataPath := getEnv("DATA_PATH", "./data")
	locations := []string{
		filepath.Join(dataPath, "config.yaml"),
		"./config/config.yaml",
		"/config/config.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return filepath.Join(dataPath, "config.yaml")
}

func setupRouter(cfg *config.Config, cameras *camera.Service, hub *api.Hub, system *api.SystemHandler, collector *metrics.Collector) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// the websocket and the log stream are long lived
	r.Get("/ws", hub.HandleWebSocket)
	r.Handle("/metrics", collector.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/health", system.Health)
		r.Mount("/api/cameras", api.NewCameraHandler(cameras).Routes())
	})
	r.Mount("/api/system", system.Routes())

	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
