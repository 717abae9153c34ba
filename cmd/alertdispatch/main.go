package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hyunsookm/VisionWalkHelper/internal/alert"
	"github.com/Hyunsookm/VisionWalkHelper/internal/config"
	"github.com/Hyunsookm/VisionWalkHelper/internal/push"
	"github.com/Hyunsookm/VisionWalkHelper/internal/store"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/visionwalkhelper/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := store.NewClient(ctx, cfg.CredentialsFile)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer client.Close()

	sender, err := push.NewService(ctx, cfg.CredentialsFile)
	if err != nil {
		log.Fatalf("push: %v", err)
	}

	dispatcher := alert.NewDispatcher(client, sender)

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %s, shutting down...", sig)
		cancel()
	}()

	log.Println("Ready! Dispatching new alerts. Ctrl+C to quit.")

	err = client.ListenNewAlerts(ctx, func(id string, data map[string]any) {
		if err := dispatcher.HandleAlert(ctx, id, data); err != nil {
			slog.Error("alert dispatch failed", "id", id, "error", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("alert listener: %v", err)
	}
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// setupLogging installs the default slog handler at the configured level.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
