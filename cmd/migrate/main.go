package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

func main() {
	envFile := env.SetupEnvFile()
	log := logger.New(logger.ConfigFromEnv()).Named("migrate")
	defer func() { _ = log.Sync() }()
	defer zap.ReplaceGlobals(log)()
	if envFile != "" {
		log.Info("Loaded environment file", zap.String("path", envFile))
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		env.GetEnv("DB_USER", "relayfunder"),
		env.GetEnv("DB_PASSWORD", "relayfunder"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "relayfunder"),
	)

	log.Info("Connecting to database",
		zap.String("user", env.GetEnv("DB_USER", "relayfunder")),
		zap.String("host", env.GetEnv("DB_HOST", "db")),
		zap.String("port", env.GetEnv("DB_PORT", "3306")),
		zap.String("database", env.GetEnv("DB_NAME", "relayfunder")),
	)

	m, err := migrate.New(
		"file://"+env.GetEnv("MIGRATIONS_PATH", "migrations"),
		dbURL,
	)
	if err != nil {
		log.Fatal("Failed to initialise migrations", zap.Error(err))
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Error("Failed to close migration resources", zap.NamedError("source", sourceErr), zap.NamedError("database", dbErr))
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("Migration failed", zap.Error(err))
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Info("No change: database is up to date")
		} else {
			log.Info("Migrations applied")
		}

	case "down":
		// Roll back only the latest migration.
		if err := m.Steps(-1); err != nil {
			log.Fatal("Rollback failed", zap.Error(err))
		}
		log.Info("Rolled back latest migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("goto requires a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatal("Invalid version number", zap.Error(err))
		}

		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("Migration to version failed", zap.Uint64("version", version), zap.Error(err))
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Info("No change: database already at version", zap.Uint64("version", version))
		} else {
			log.Info("Migrated to version", zap.Uint64("version", version))
		}

	case "force":
		if len(os.Args) < 3 {
			log.Fatal("force requires a version number")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatal("Invalid version number", zap.Error(err))
		}
		if err := m.Force(version); err != nil {
			log.Fatal("Force failed", zap.Int("version", version), zap.Error(err))
		}
		log.Info("Forced version, dirty flag cleared", zap.Int("version", version))

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Info("No migrations applied yet")
		case err != nil:
			log.Fatal("Failed to read migration version", zap.Error(err))
		default:
			log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up           - apply all pending migrations")
	fmt.Println("  down         - roll back the latest migration")
	fmt.Println("  goto VERSION - migrate up or down to VERSION")
	fmt.Println("  force VERSION - set VERSION and clear the dirty flag")
	fmt.Println("  status       - print the current version")
}
