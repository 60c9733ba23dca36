package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rherriman/ratd/internal/config"
	"github.com/rherriman/ratd/internal/lobby"
	"github.com/rherriman/ratd/internal/metrics"
	"github.com/rherriman/ratd/internal/server"
)

const (
	serviceName    = "ratd"
	serviceVersion = "1.0.0"
)

// Exit codes distinguish configuration problems from socket problems, so
// supervisors can tell a bad config file from a port collision.
const (
	exitConfigError = 1
	exitBindError   = 2
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	port := flag.Int("port", 0, "UDP port to listen on (overrides config)")
	workers := flag.Int("workers", 0, "Number of packet workers (overrides config)")
	timeout := flag.Int("timeout", 0, "Lobby timeout in minutes (overrides config)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(exitConfigError)
	}

	if *port != 0 {
		cfg.Server.UDPPort = *port
	}
	if *workers != 0 {
		cfg.Tracker.Workers = *workers
	}
	if *timeout != 0 {
		cfg.Tracker.LobbyTimeoutMinutes = *timeout
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger := initLogger(cfg.Logging).With(
		slog.String("instance", uuid.NewString()),
	)

	logger.Info("Tracker starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
	)
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("workers", cfg.Tracker.Workers),
		slog.Duration("lobby_timeout", cfg.Tracker.GetLobbyTimeout()),
		slog.Int("response_limit", cfg.Tracker.ResponseLimit),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	registry := lobby.NewRegistry(logger)

	udpServer := server.NewUDPServer(cfg, logger, registry, appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, registry, udpServer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		if errors.Is(err, server.ErrBindFailure) {
			os.Exit(exitBindError)
		}
		os.Exit(exitConfigError)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(exitBindError)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Tracker started, waiting for signals...",
		slog.String("udp_address", udpServer.LocalAddr().String()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop the HTTP surface first, then drain the UDP pipeline
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("responses_sent", stats.ResponsesSent),
		slog.Uint64("active_lobbies", stats.ActiveLobbies),
	)

	logger.Info("Tracker stopped")
}

// loadConfig reads the config file if one was given, or starts from the
// built-in defaults so the tracker runs with no config file at all.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
