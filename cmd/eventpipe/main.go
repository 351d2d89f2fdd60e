package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/stacksignal/eventpipe/internal/control"
	"github.com/stacksignal/eventpipe/internal/core/config"
	"github.com/stacksignal/eventpipe/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Env vars referenced by the config file may come from .env.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	timeFormat := cfg.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	var inner slog.Handler
	if cfg.Logging.Format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		inner = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: timeFormat,
		})
	}

	// The ring keeps recent records for the GET /logs diagnostics endpoint.
	ring := logging.NewRing(cfg.Logging.RingSize)
	log := slog.New(logging.NewRingHandler(inner, ring))
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", level.String(), "format", cfg.Logging.Format)

	app, err := control.New(*cfg, ring, log)
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", "error", err)
		os.Exit(1)
	}

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down...", "signal", sig.String())
	case <-app.Done():
		log.Error("Observer connection lost, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Stopped gracefully")
}
