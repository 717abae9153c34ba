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
	"time"

	"github.com/Hyunsookm/VisionWalkHelper/internal/alert"
	"github.com/Hyunsookm/VisionWalkHelper/internal/ble"
	"github.com/Hyunsookm/VisionWalkHelper/internal/config"
	"github.com/Hyunsookm/VisionWalkHelper/internal/credential"
	"github.com/Hyunsookm/VisionWalkHelper/internal/identity"
	"github.com/Hyunsookm/VisionWalkHelper/internal/location"
	"github.com/Hyunsookm/VisionWalkHelper/internal/peers"
	"github.com/Hyunsookm/VisionWalkHelper/internal/store"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/visionwalkhelper/config.yaml)")
	pairSerial := flag.String("pair", "", "pair with a new device using this serial number")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Firestore-backed document store
	client, err := store.NewClient(ctx, cfg.CredentialsFile)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer client.Close()

	who := identity.Static{UID: cfg.UserUID}

	// Location uploader; sending stays gated until the device session
	// is authenticated.
	updater := location.NewUpdater(
		location.Fixed{Lat: cfg.Location.Lat, Lng: cfg.Location.Lng},
		location.Options{Interval: time.Duration(cfg.Location.IntervalSecs) * time.Second},
	)
	updater.Init(who, client)
	if err := updater.Start(ctx, false); err != nil {
		log.Fatalf("location: %v", err)
	}
	defer updater.Stop()

	// Fall reporter
	peerSvc := peers.NewService(client)
	reporter := alert.NewReporter(who, peerSvc, client, alert.ReporterOptions{
		Debounce: time.Duration(cfg.Alert.DebounceSecs) * time.Second,
	})

	// BLE pairing engine
	engine := ble.NewEngine(ble.NewTinygoAdapter(), credential.NewStore(cfg.CredentialDir), ble.EngineOptions{
		ScanTimeout: time.Duration(cfg.Device.ScanTimeoutSecs) * time.Second,
		AuthGrace:   time.Duration(cfg.Device.AuthGraceMillis) * time.Millisecond,
		NamePrefix:  cfg.Device.NamePrefix,
	})
	engine.OnConnectionLost(func() {
		slog.Warn("device connection lost, location uploads paused")
		updater.SetSendAllowed(false)
	})

	var session *ble.Session
	if *pairSerial != "" {
		log.Printf("Pairing with a new device (serial %s)...", *pairSerial)
		session, err = engine.BeginPairing(ctx, *pairSerial)
	} else {
		session, err = engine.Reconnect(ctx)
	}
	if err != nil {
		log.Fatalf("device: %v\n\nRun with -pair <serial> to pair a new device.", err)
	}
	defer session.Close()
	log.Printf("Device connected: %s", session.DeviceID())

	// Authenticated: open the location gate.
	updater.SetSendAllowed(true)
	updater.SetAppActive(true)

	battSub, err := session.SubscribeBattery(func(level int) {
		slog.Info("battery level", "percent", level)
	})
	if err != nil {
		log.Printf("WARNING: battery stream unavailable: %v", err)
	} else {
		defer battSub.Unsubscribe()
	}

	fallSub, err := session.SubscribeFalls(func() {
		if err := reporter.ReportFall(ctx, session.DeviceID()); err != nil {
			slog.Error("fall report failed", "error", err)
		}
	})
	if err != nil {
		log.Fatalf("fall stream: %v", err)
	}
	defer fallSub.Unsubscribe()

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Ready! Watching for falls. Ctrl+C to quit.")

	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)
	updater.SetSendAllowed(false)
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

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== visionwalk ===")
	fmt.Printf("  User:     %s\n", cfg.UserUID)
	fmt.Printf("  Device:   prefix %q, scan %ds\n", cfg.Device.NamePrefix, cfg.Device.ScanTimeoutSecs)
	fmt.Printf("  Location: every %ds\n", cfg.Location.IntervalSecs)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("==================")
}
