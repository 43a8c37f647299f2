// Mortal Core - admin console backend
//
// This is the main entry point for the console API. It serves user, role
// and menu management behind token authentication, and builds the
// permission-scoped navigation the console assembles its router from.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // app.timezone must load on hosts without zoneinfo

	"github.com/joho/godotenv"

	"github.com/nerrad567/mortal-core/internal/api"
	"github.com/nerrad567/mortal-core/internal/audit"
	"github.com/nerrad567/mortal-core/internal/auth"
	"github.com/nerrad567/mortal-core/internal/infrastructure/config"
	"github.com/nerrad567/mortal-core/internal/infrastructure/database"
	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
	"github.com/nerrad567/mortal-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/mortal-core/internal/menu"
	"github.com/nerrad567/mortal-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// envFile is loaded into the environment when present.
const envFile = ".env"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Mortal Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadEnvFile(envFile); err != nil {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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
	db.SetLogger(log)
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	users := auth.NewUserRepository(db.DB)
	roles := auth.NewRoleRepository(db.DB)
	authSvc := auth.NewService(users, roles, auth.NewTokenRepository(db.DB), authOptions(cfg.Security), log)

	if _, seedErr := auth.SeedSuperAdmin(ctx, users, roles, cfg.Security.SuperRole, log); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		DB:       db,
		Auth:     authSvc,
		Menus:    menu.NewService(menu.NewSQLiteRepository(db.DB), log),
		Audit:    audit.NewSQLiteRepository(db.DB),
		Version:  version,
	}

	// Events and publisher stay nil when MQTT is off; a typed nil would
	// pass their nil checks.
	var publisher healthChecker
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, log)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		deps.Events = mqttClient
		publisher = mqttClient
	} else {
		log.Info("MQTT publisher disabled")
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, server, publisher); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("Mortal Core stopped")
	return nil
}

// healthChecker is implemented by every component verified at startup.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies all started components are functioning.
// publisher is nil when MQTT is disabled.
func healthCheck(ctx context.Context, db, server, publisher healthChecker) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check API server
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// Check MQTT (if enabled)
	if publisher != nil {
		if err := publisher.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	return nil
}

// getConfigPath returns the configuration file path.
// Uses MORTAL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MORTAL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func authOptions(sec config.SecurityConfig) auth.Options {
	return auth.Options{
		Secret:                 sec.JWT.Secret,
		AccessTTL:              sec.JWT.AccessTTL(),
		RefreshTTL:             sec.JWT.RefreshTTL(),
		RotateRefreshTokens:    sec.JWT.RotateRefreshTokens,
		BlacklistAfterRotation: sec.JWT.BlacklistAfterRotation,
		MinPasswordLength:      sec.MinPasswordLength,
	}
}
