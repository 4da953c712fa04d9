package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/dq-sentinel/internal/config"
	"github.com/raaihank/dq-sentinel/internal/engine"
	"github.com/raaihank/dq-sentinel/internal/logger"
	"github.com/raaihank/dq-sentinel/internal/server"
	"github.com/raaihank/dq-sentinel/internal/websocket"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("dq-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting dq-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := websocket.NewHub(&cfg.WebSocket.Events, log.WithComponent("websocket").Logger)
	eng, err := engine.New(ctx, cfg, hub, log)
	if err != nil {
		log.Fatal("Failed to initialize risk engine", zap.Error(err))
	}

	srv, err := server.New(cfg, server.Dependencies{Catalog: eng.Catalog, Analyzer: eng.Analyzer, Hub: hub}, log)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	if err := config.Watch(cfg, func(next *config.Config) {
		eng.Scanner.SetLimits(next.Scan.Limits)
	}, func(err error) {
		log.Warn("Ignoring invalid configuration change", zap.Error(err))
	}); err != nil {
		log.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	go hub.Run()
	go reportStatus(ctx, hub, eng, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			exitCode = 1
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Failed to shutdown server gracefully", zap.Error(err))
		exitCode = 1
	}
	stop()
	hub.Stop()

	if err := eng.Close(shutdownCtx); err != nil {
		log.Error("Failed to persist learned statistics", zap.Error(err))
		exitCode = 1
	}

	log.Info("Server shutdown complete")
	if exitCode != 0 {
		log.Sync()
		os.Exit(exitCode)
	}
}

func loggerConfig(cfg *config.Config) logger.Config {
	lc := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		lc.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return lc
}

// reportStatus broadcasts a system status event every 30 seconds.
func reportStatus(ctx context.Context, hub *websocket.Hub, eng *engine.Engine, log *logger.Logger) {
	started := time.Now()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := hub.GetStats()
			hub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data: websocket.SystemStatusEvent{
					Status:           "running",
					Uptime:           time.Since(started).Round(time.Second).String(),
					TotalRules:       eng.Catalog.Summary().Total,
					ConnectedClients: int(stats.ActiveConnections),
				},
			})
			log.Debug("System status broadcast", zap.Int64("clients", stats.ActiveConnections))
		}
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
