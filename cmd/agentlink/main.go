// AgentLink Core - device command and control plane
//
// This is the main entry point for the AgentLink Core service. It pairs
// local agent processes with user accounts, dispatches OS automation
// commands to them over WebSocket or a polling fallback, and audits
// every action along the way.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/rmcgann/agentlink-core/migrations"

	"github.com/rmcgann/agentlink-core/internal/api"
	"github.com/rmcgann/agentlink-core/internal/audit"
	"github.com/rmcgann/agentlink-core/internal/auth"
	"github.com/rmcgann/agentlink-core/internal/automation"
	"github.com/rmcgann/agentlink-core/internal/dispatch"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/config"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/database"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/influxdb"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/logging"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/mqtt"
	"github.com/rmcgann/agentlink-core/internal/presence"
	"github.com/rmcgann/agentlink-core/internal/registry"
	"github.com/rmcgann/agentlink-core/internal/transport"
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

// Background maintenance intervals.
const (
	codeSweepInterval = time.Minute
	retentionInterval = 10 * time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	// The logger already attaches a version attr to every record.
	log := logging.Default()
	log.Info("starting AgentLink Core",
		"commit", commit,
		"build_date", date,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Seed the initial admin account on first boot
	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.Bootstrap(ctx, users,
		cfg.Security.Bootstrap.Username, cfg.Security.Bootstrap.Password, log.Logger); seedErr != nil {
		return fmt.Errorf("bootstrapping admin user: %w", seedErr)
	}

	// Device registry with the configured trust policy
	trustMode, err := registry.ParseTrustMode(cfg.Security.Trust.Mode)
	if err != nil {
		return fmt.Errorf("parsing trust mode: %w", err)
	}
	deviceRegistry := registry.NewRegistry(registry.NewSQLiteRepository(db.DB), trustMode)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised",
		"devices", deviceRegistry.DeviceCount(),
		"trust_mode", trustMode,
	)

	// Presence tracker, seeded from persisted last-seen times
	tracker := presence.NewTracker()
	tracker.SetLogger(log)
	devices, err := deviceRegistry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("seeding presence: %w", err)
	}
	for _, d := range devices {
		if d.LastSeen != nil {
			tracker.Seed(d.ID, d.UserID, *d.LastSeen)
		} else {
			tracker.Seed(d.ID, d.UserID, time.Time{})
		}
	}

	// Session hub with the configured offline queue bound
	hub := transport.NewHub(cfg.Transport.QueueSize)
	hub.SetLogger(log)

	// Audit trail (ring + SQLite mirror)
	auditLog := audit.NewLog(audit.NewSQLiteRepository(db.DB))
	auditLog.SetLogger(log)
	deviceRegistry.SetAuditLog(auditLog)
	tracker.SetAuditLog(auditLog)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Task dispatcher
	dispatcher := dispatch.NewDispatcher(hub, auditLog)
	dispatcher.SetLogger(log)
	if mqttClient != nil {
		dispatcher.SetEventClient(mqttClient)
	}
	if influxClient != nil {
		dispatcher.SetTelemetryClient(influxClient)
	}

	// Automation router, selecting devices via presence when a goal
	// names none
	autoRouter := automation.NewRouter(dispatcher, tracker)
	autoRouter.SetLogger(log)

	// Background maintenance. Both loops run until ctx is cancelled.
	go deviceRegistry.StartCodeCleanup(ctx, codeSweepInterval)
	go dispatcher.StartRetention(ctx, retentionInterval)

	// API server (REST + agent WebSocket)
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		AgentWS:    cfg.AgentWS,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   deviceRegistry,
		Presence:   tracker,
		Hub:        hub,
		Dispatcher: dispatcher,
		AutoRouter: autoRouter,
		AuditLog:   auditLog,
		Users:      users,
		DB:         db,
		MQTT:       mqttClient,
		Telemetry:  influxClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"agent_ws", fmt.Sprintf("%s:%d", cfg.AgentWS.Host, cfg.AgentWS.Port),
	)

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (drains sessions and in-flight requests)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("AgentLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AGENTLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AGENTLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
// Optional clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
