package dbconfig

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mcdev12/tourney/go/internal/sqlutil"
)

// Config holds database connection settings. Postgres is the default; SQLite
// (a file path or ":memory:") is for local development and tests.
type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Path     string
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Config{
		Driver:   getEnv("DB_DRIVER", "postgres"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "tournament_aggregator"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		Path:     getEnv("DB_PATH", "tourney.db"),
	}
}

// Dialect returns the SQL dialect for the configured driver.
func (c Config) Dialect() (sqlutil.Dialect, error) {
	return sqlutil.ParseDialect(c.Driver)
}

// DriverName is the database/sql driver to open: "postgres" (lib/pq) or
// "sqlite" (modernc.org/sqlite).
func (c Config) DriverName() (string, error) {
	d, err := c.Dialect()
	if err != nil {
		return "", err
	}
	return string(d), nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if d, _ := c.Dialect(); d == sqlutil.SQLite {
		return c.Path
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
