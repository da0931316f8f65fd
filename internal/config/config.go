package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"balloon/internal/game"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env             string
	Port            int
	LogLevel        slog.Level
	LogFormat       string // json or text
	AllowOrigins    string
	RateLimit       int // requests per minute per client
	MigrationsPath  string
	AutoMigrate     bool
	RequireCache    bool
	ShutdownTimeout time.Duration
	TablesFile      string
	Tables          []game.TableConfig
}

// tablesFile is the YAML layout: defaults apply to every table, then each
// table entry overrides what it names.
type tablesFile struct {
	Defaults yaml.Node   `yaml:"defaults"`
	Tables   []yaml.Node `yaml:"tables"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:             getEnv("APP_ENV", "development"),
		Port:            getEnvAsInt("PORT", 8080),
		LogLevel:        parseLevel(getEnv("LOG_LEVEL", "info")),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		AllowOrigins:    getEnv("CORS_ALLOW_ORIGINS", "*"),
		RateLimit:       getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
		MigrationsPath:  getEnv("MIGRATIONS_PATH", "./migrations"),
		AutoMigrate:     getEnvAsBool("AUTO_MIGRATE", false),
		RequireCache:    getEnvAsBool("REQUIRE_CACHE", false),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		TablesFile:      getEnv("TABLES_FILE", ""),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Port)
	}

	if cfg.TablesFile == "" {
		cfg.Tables = DefaultTables()
		return cfg, nil
	}

	data, err := os.ReadFile(cfg.TablesFile)
	if err != nil {
		return nil, fmt.Errorf("read tables file: %w", err)
	}
	tables, err := ParseTables(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.TablesFile, err)
	}
	cfg.Tables = tables
	return cfg, nil
}

// DefaultTables serves one single-player and one two-player table.
func DefaultTables() []game.TableConfig {
	solo := game.DefaultTableConfig("solo")
	duel := game.DefaultTableConfig("duel")
	duel.Round.ParticipantCount = 2
	return []game.TableConfig{solo, duel}
}

// ParseTables decodes a tables file over the built-in defaults and validates
// every table.
func ParseTables(data []byte) ([]game.TableConfig, error) {
	var file tablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, errors.New("no tables defined")
	}

	seen := make(map[string]bool, len(file.Tables))
	tables := make([]game.TableConfig, 0, len(file.Tables))
	for i, node := range file.Tables {
		table := game.DefaultTableConfig("")
		if !file.Defaults.IsZero() {
			if err := file.Defaults.Decode(&table); err != nil {
				return nil, fmt.Errorf("defaults: %w", err)
			}
		}
		if err := node.Decode(&table); err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}

		if err := validateTable(table); err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		if seen[table.ID] {
			return nil, fmt.Errorf("table %d: duplicate id %q", i, table.ID)
		}
		seen[table.ID] = true
		tables = append(tables, table)
	}
	return tables, nil
}

func validateTable(t game.TableConfig) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("id is required")
	}
	if t.TickInterval <= 0 {
		return fmt.Errorf("%s: tick_interval must be positive", t.ID)
	}
	if t.WaitingTime < 0 || t.CooldownTime < 0 || t.MaxRoundDuration < 0 {
		return fmt.Errorf("%s: durations must not be negative", t.ID)
	}
	if err := t.Round.Validate(); err != nil {
		return fmt.Errorf("%s: %w", t.ID, err)
	}
	return nil
}

// NewLogger builds the process logger from the config.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
