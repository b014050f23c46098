// LumiBot Core - smart lighting session daemon
//
// This is the main entry point for LumiBot Core. It keeps one managed
// MQTT-over-WebSocket session to the LumiBot broker, maintains the
// per-user device registry, caches merged device state, and optionally
// records state history to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lumibot/lumibot-core/migrations"

	"github.com/lumibot/lumibot-core/internal/device"
	"github.com/lumibot/lumibot-core/internal/history"
	"github.com/lumibot/lumibot-core/internal/infrastructure/config"
	"github.com/lumibot/lumibot-core/internal/infrastructure/database"
	"github.com/lumibot/lumibot-core/internal/infrastructure/influxdb"
	"github.com/lumibot/lumibot-core/internal/infrastructure/logging"
	"github.com/lumibot/lumibot-core/internal/session"
	"github.com/lumibot/lumibot-core/internal/settings"
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
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LumiBot Core",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Settings store supplies live broker parameters and receives
	// WebSocket-path rotations.
	store := settings.NewStore(db.DB, cfg.Broker)

	// Create the MQTT session core.
	sess := session.New(cfg.Session, store)
	sess.SetLogger(log.With("component", "session"))

	sess.OnConnect(func() {
		log.Info("broker session established")
	})
	sess.OnDisconnect(func() {
		log.Warn("broker session lost")
	})
	sess.OnError(func(sessErr error) {
		log.Error("session error", "error", sessErr)
	})

	// Device registry keeps persistence, the settings mirror, and the
	// session's subscription set in step.
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo, store, sess, cfg.Registry.UserID)
	registry.SetLogger(log.With("component", "registry"))

	// Register stored devices before the first connect so the
	// post-connect replay covers the whole list.
	if restoreErr := registry.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring device registry: %w", restoreErr)
	}

	// Connect to InfluxDB and attach the history recorder (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetErrorCallback(func(writeErr error) {
			log.Error("InfluxDB write error", "error", writeErr)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		history.NewRecorder(influxClient).Attach(sess)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Establish the broker session. A failed first connect is not
	// fatal: the liveness supervisor retries on the next wake hint.
	if connectErr := sess.Connect(ctx); connectErr != nil {
		log.Warn("initial connect failed, supervisor will retry", "error", connectErr)
	}
	defer func() {
		log.Info("disconnecting broker session")
		sess.Disconnect()
	}()

	// Liveness supervisor repairs half-open connections after
	// suspend/resume and network changes.
	supervisor := session.NewSupervisor(sess, log.With("component", "supervisor"))
	go supervisor.Run(ctx)

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// 1. Session disconnect
	// 2. InfluxDB (if enabled)
	// 3. Database

	log.Info("LumiBot Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LUMIBOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LUMIBOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
