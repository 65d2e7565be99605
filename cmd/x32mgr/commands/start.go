package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/pkg/api"
	"github.com/stagelink/x32mgr/pkg/config"
	"github.com/stagelink/x32mgr/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the x32mgr server",
	Long: `Start the scene manager with the specified configuration.

The server connects to the console named in the configuration (when one is
configured) and serves the REST and WebSocket API for front-ends. Without a
configured console it starts disconnected and waits for POST /x32/connect.

Examples:
  # Start with the default config location
  x32mgr start

  # Start with a custom config file
  x32mgr start --config /etc/x32mgr/config.yaml

  # Start against the in-process console simulator
  X32MGR_MOCK_MODE=true x32mgr start

  # Use environment variables to override config
  X32MGR_LOGGING_LEVEL=DEBUG x32mgr start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("x32mgr - X32 scene manager")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics before anything that records them.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	bus := events.NewBus(0)
	defer bus.Close()

	rt := api.NewRuntime(cfg, bus)
	rt.Metrics = metrics.NewConsoleMetrics()
	defer rt.Close()

	// Establish the console session when the config names one. A console
	// that is off right now is not fatal; the session keeps probing.
	switch {
	case cfg.MockMode:
		if err := rt.ConnectMock(ctx); err != nil {
			return fmt.Errorf("failed to start mock console: %w", err)
		}
		logger.Info("Mock console connected")
	case cfg.Console.IP != "":
		if err := rt.Connect(ctx, cfg.Console.IP, cfg.Console.Port); err != nil {
			return fmt.Errorf("failed to connect console: %w", err)
		}
		logger.Info("Console session established",
			"ip", cfg.Console.IP, "port", cfg.Console.Port)
	default:
		logger.Info("No console configured; waiting for POST /x32/connect")
	}

	apiServer := api.NewServer(cfg, rt)
	logger.Info("API server configured", "port", apiServer.Port())

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}
