// cloudsync - device-side IoT cloud synchronisation daemon
//
// This is the main entry point for the cloudsync daemon. It keeps one
// device synchronised with its cloud platform:
//   - Publishes telemetry (properties and events) with acknowledgement
//     tracking against the device's object model
//   - Receives cloud-initiated property writes, OTA pushes and RPC calls
//   - Reports module versions and requests firmware plans on startup
//   - Wakes periodically for a report cycle, sleeping in between
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/wcache/cloudsync-core/migrations"

	"github.com/wcache/cloudsync-core/internal/battery"
	"github.com/wcache/cloudsync-core/internal/cloud"
	"github.com/wcache/cloudsync-core/internal/infrastructure/config"
	"github.com/wcache/cloudsync-core/internal/infrastructure/database"
	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
	"github.com/wcache/cloudsync-core/internal/journal"
	"github.com/wcache/cloudsync-core/internal/location"
	"github.com/wcache/cloudsync-core/internal/power"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting cloudsync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database for the publish journal
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	journalRepo := journal.NewSQLiteRepository(db.DB)

	// Load the object model schema
	model, err := cloud.LoadObjectModel(cfg.Cloud.SchemaPath)
	if err != nil {
		return fmt.Errorf("loading object model: %w", err)
	}
	log.Info("object model loaded",
		"path", cfg.Cloud.SchemaPath,
		"properties", len(model.Properties()),
		"events", len(model.Events()),
	)

	// Build and connect the sync engine
	engine := cloud.New(*cfg, log, cloud.WithJournal(journalRepo))
	if err := engine.RegisterObjectModel(model); err != nil {
		return fmt.Errorf("registering object model: %w", err)
	}

	token := engine.SubscribeEvents(cloud.ObserverFunc(func(evt cloud.Event) {
		handleCloudEvent(engine, log, evt)
	}))
	defer engine.UnsubscribeEvents(token)

	if err := engine.Connect(false); err != nil {
		return fmt.Errorf("connecting to cloud: %w", err)
	}
	defer func() {
		log.Info("disconnecting from cloud")
		engine.Disconnect()
	}()

	// Report module versions and ask for pending upgrade plans
	if !engine.DeviceReport() {
		log.Warn("device version report incomplete")
	}
	if !engine.OTARequest() {
		log.Warn("firmware plan request incomplete")
	}

	// Sensor sources for the report cycle
	locator := buildLocator(cfg, log)
	gauge := buildGauge(cfg, log)

	// Periodic report loop driven by the low-energy wake manager
	manager, err := power.NewManager(
		power.Method(cfg.Power.Method),
		time.Duration(cfg.Report.Interval)*time.Second,
		log,
	)
	if err != nil {
		return fmt.Errorf("creating wake manager: %w", err)
	}
	manager.OnWake(func(power.Method) {
		reportCycle(ctx, cfg, engine, locator, gauge, log)
	})
	manager.Start()
	defer manager.Stop()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CLOUDSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CLOUDSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// handleCloudEvent reacts to upward notifications from the engine.
func handleCloudEvent(engine *cloud.Engine, log *logging.Logger, evt cloud.Event) {
	switch evt.Kind {
	case cloud.EventObjectModel:
		for _, pair := range evt.Pairs {
			log.Info("property write from cloud", "identifier", pair.Key, "value", pair.Value)
		}
	case cloud.EventOTAStatus:
		log.Info("firmware upgrade available", "details", evt.Pairs)
	case cloud.EventOTAPlain:
		log.Info("firmware plan received", "bytes", len(evt.Data))
	case cloud.EventFileDownload:
		log.Info("firmware block received", "bytes", len(evt.Data))
	case cloud.EventRRPCRequest:
		// Acknowledge RPC calls; this daemon exposes no remote procedures.
		log.Info("rrpc request", "topic", evt.Topic)
		engine.ReplyRRPC(evt.Topic, map[string]string{"status": "ok"})
	}
}

// buildLocator wires the configured positioning sources.
func buildLocator(cfg *config.Config, log *logging.Logger) *location.Locator {
	locator := location.NewLocator(log)

	if cfg.Report.GPSDevice != "" {
		device, err := os.Open(cfg.Report.GPSDevice)
		if err != nil {
			log.Warn("gps device unavailable", "path", cfg.Report.GPSDevice, "error", err)
		} else {
			locator.Register(location.MethodGPS, location.NewNMEASource(device, log))
		}
	}

	return locator
}

// buildGauge wires the battery gauge when a voltage source is configured.
// Returns nil when battery reporting is disabled.
func buildGauge(cfg *config.Config, log *logging.Logger) *battery.Gauge {
	if cfg.Report.BatteryVoltagePath == "" {
		return nil
	}

	gauge, err := battery.NewGauge(
		cfg.Battery.Chemistry,
		sysfsVoltage(cfg.Report.BatteryVoltagePath),
		cfg.Battery.Samples,
		log,
	)
	if err != nil {
		log.Warn("battery gauge unavailable", "error", err)
		return nil
	}
	return gauge
}

// sysfsVoltage reads a power-supply voltage file. The kernel reports
// microvolts; the gauge works in millivolts.
func sysfsVoltage(path string) battery.VoltageFunc {
	return func() (int, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		uv, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return 0, fmt.Errorf("parsing voltage %q: %w", strings.TrimSpace(string(data)), err)
		}
		return uv / 1000, nil
	}
}

// reportCycle gathers one telemetry snapshot and publishes it.
func reportCycle(ctx context.Context, cfg *config.Config, engine *cloud.Engine, locator *location.Locator, gauge *battery.Gauge, log *logging.Logger) {
	values := make(map[string]any)
	values["local_time"] = time.Now().UnixMilli()

	if gauge != nil {
		if energy, err := gauge.Energy(); err != nil {
			log.Warn("battery read failed", "error", err)
		} else {
			values["energy"] = energy
		}
	}

	fixes := locator.Read(ctx, location.Method(cfg.Report.LocationMethods))
	if fix, ok := fixes[location.MethodGPS]; ok {
		values["gps_info"] = map[string]any{
			"longitude": fix.Longitude,
			"latitude":  fix.Latitude,
			"altitude":  fix.Altitude,
		}
	}

	if !engine.PublishTelemetry(values) {
		log.Warn("telemetry report not fully acknowledged")
	}
}
