package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"sentinel-device/internal/logging"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// Credentials the device presents on POST /auth.
	AuthUsername string
	AuthPassword string
	JWTSecret    string
	TokenTTL     time.Duration

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	SQLiteLogQueries      bool
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := logging.ParseLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	secret := envString("JWT_SECRET", "")
	if secret == "" {
		if appEnv == "prod" {
			return Config{}, fmt.Errorf("JWT_SECRET is required when APP_ENV=prod")
		}
		secret = "dev-secret"
	}

	tokenTTLStr := envString("TOKEN_TTL", "1h")
	tokenTTL, err := time.ParseDuration(tokenTTLStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL %q: %w", tokenTTLStr, err)
	}
	if tokenTTL < time.Second {
		return Config{}, fmt.Errorf("TOKEN_TTL must be at least 1s, got %v", tokenTTL)
	}

	maxOpenConnsStr := envString("DB_MAX_OPEN_CONNS", "1")
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := envString("DB_MAX_IDLE_CONNS", "1")
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetimeStr := envString("DB_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	logQueriesStr := envString("DB_LOG_QUERIES", "false")
	logQueries, err := strconv.ParseBool(logQueriesStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_LOG_QUERIES %q: %w", logQueriesStr, err)
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              envString("HTTP_ADDR", ":8080"),
		AuthUsername:          envString("AUTH_USERNAME", "device"),
		AuthPassword:          envString("AUTH_PASSWORD", "device"),
		JWTSecret:             secret,
		TokenTTL:              tokenTTL,
		SQLiteDriver:          envString("DB_DRIVER", "sqlite3"),
		SQLiteDSN:             envString("DB_DSN", ""),
		SQLitePath:            envString("SQLITE_PATH", "dev/sqlite/backend.db"),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLiteLogQueries:      logQueries,
	}, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
