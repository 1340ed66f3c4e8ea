// Command migrate applies the database migrations under migrations/.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/grl/internal/config"
	"github.com/liamcoop/grl/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	databaseURL := flag.String("database", "", "database URL (overrides DATABASE_URL)")
	migrationsPath := flag.String("path", "", "migrations source URL (overrides MIGRATIONS_PATH)")
	command := flag.String("command", "up", "migration command: up, down, version, force")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.ErrorSampleRate); err != nil {
		logger.Fatal("failed to configure logger", "error", err)
	}
	if *databaseURL != "" {
		cfg.Database.URL = *databaseURL
	}
	if *migrationsPath != "" {
		cfg.Database.MigrationsPath = *migrationsPath
	}

	if err := run(cfg.Database, *command, flag.Args()); err != nil {
		logger.Fatal("migration failed", "command", *command, "error", err)
	}
}

func run(db config.DatabaseConfig, command string, args []string) error {
	if db.URL == "" {
		return errors.New("database URL is required: use -database or DATABASE_URL")
	}

	logger.Info("connecting to database", "migrations", db.MigrationsPath)
	m, err := migrate.New(db.MigrationsPath, db.URL)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrations applied")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("migrations rolled back")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info("forced version", "version", version)

	default:
		return fmt.Errorf("unknown command %q (use: up, down, version, force)", command)
	}
	return nil
}
