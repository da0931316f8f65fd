package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"balloon/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	migrationsPath := getEnv("MIGRATIONS_PATH", "./migrations")

	if os.Args[1] == "create" {
		if len(os.Args) < 3 {
			fatal(logger, "usage: migrate create <name>")
		}
		if err := createMigration(migrationsPath, os.Args[2], logger); err != nil {
			fatal(logger, "create migration", "err", err)
		}
		return
	}

	db, err := sql.Open("pgx", database.ConnString())
	if err != nil {
		fatal(logger, "open database", "err", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "up":
		if err := database.RunMigrations(db, migrationsPath); err != nil {
			fatal(logger, "migrate up", "err", err)
		}
		logger.Info("migrations applied", "path", migrationsPath)

	case "down":
		if err := database.RollbackMigration(db, migrationsPath); err != nil {
			fatal(logger, "migrate down", "err", err)
		}
		logger.Info("rolled back one migration")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db, migrationsPath)
		if err != nil {
			fatal(logger, "read version", "err", err)
		}
		if dirty {
			logger.Warn("schema is dirty and needs manual repair", "version", version)
			return
		}
		logger.Info("schema version", "version", version)

	default:
		logger.Error("unknown command", "command", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

// createMigration writes an empty up/down pair numbered after the highest
// existing version.
func createMigration(dir, name string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	next := 1
	for _, e := range entries {
		var version int
		if _, err := fmt.Sscanf(e.Name(), "%06d_", &version); err == nil && version >= next {
			next = version + 1
		}
	}

	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	created := time.Now().UTC().Format(time.RFC3339)
	files := map[string]string{
		"up":   fmt.Sprintf("-- %s\n-- created %s\n\n", name, created),
		"down": fmt.Sprintf("-- rollback %s\n\n", name),
	}
	for direction, body := range files {
		path := filepath.Join(dir, fmt.Sprintf("%06d_%s.%s.sql", next, name, direction))
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
		logger.Info("created migration", "file", path)
	}
	return nil
}

func printUsage() {
	fmt.Println(`balloon schema migrations

Usage:
  migrate up              apply pending migrations
  migrate down            roll back the last migration
  migrate version         print the applied version
  migrate create <name>   add an empty up/down pair

Environment:
  BLUEPRINT_DB_HOST, BLUEPRINT_DB_PORT, BLUEPRINT_DB_DATABASE (default balloondb),
  BLUEPRINT_DB_USERNAME, BLUEPRINT_DB_PASSWORD, BLUEPRINT_DB_SCHEMA,
  MIGRATIONS_PATH (default ./migrations)`)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
