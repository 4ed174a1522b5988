package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/server"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Parse flags (override env vars)
	port := flag.String("port", "", "Server port (overrides API_PORT)")
	host := flag.String("host", "", "Listen host (overrides HOST)")
	executorKind := flag.String("executor", "", "Executor kind: simulated, grpc or http (overrides EXECUTOR_KIND)")
	configFile := flag.String("config", "", "YAML or TOML config file (overrides CONFIG_FILE)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	dev := flag.Bool("dev", false, "Development mode (console logs, debug level)")
	flag.Parse()

	if *configFile != "" {
		os.Setenv("CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *executorKind != "" {
		cfg.Executor.Kind = *executorKind
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)

	srv, err := server.NewServer(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("Server error", zap.Error(runErr))
	}
	logger.Info("Server stopped")
}
