package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource   string
	Port       string
	Env        string
	LogLevel   string
	Driver     string
	DBMaxConns int32
}

// Load reads the environment, after merging an optional .env file. Variables
// already set in the process take precedence over the file. A missing .env is
// fine; an unreadable or malformed one is an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	driver := getenv("STORE_DRIVER", DriverPostgres)
	if driver != DriverPostgres && driver != DriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, driver)
	}

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" && driver == DriverPostgres {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	maxConns, err := strconv.ParseInt(getenv("DB_MAX_CONNS", "50"), 10, 32)
	if err != nil || maxConns < 1 {
		return nil, fmt.Errorf("DB_MAX_CONNS must be a positive integer")
	}

	return &Config{
		DBSource:   dbSource,
		Port:       getenv("SERVER_PORT", "8080"),
		Env:        getenv("ENVIRONMENT", "development"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		Driver:     driver,
		DBMaxConns: int32(maxConns),
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
