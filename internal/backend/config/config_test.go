package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadFromEnv_defaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "LOG_LEVEL", "HTTP_ADDR", "JWT_SECRET", "TOKEN_TTL", "SQLITE_PATH", "DB_LOG_QUERIES"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want dev", cfg.AppEnv)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.JWTSecret != "dev-secret" {
		t.Errorf("JWTSecret = %q, want dev-secret", cfg.JWTSecret)
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.TokenTTL)
	}
	if cfg.SQLiteDriver != "sqlite3" {
		t.Errorf("SQLiteDriver = %q, want sqlite3", cfg.SQLiteDriver)
	}
}

func TestLoadFromEnv_errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad app env", map[string]string{"APP_ENV": "staging"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"prod without secret", map[string]string{"APP_ENV": "prod", "JWT_SECRET": ""}},
		{"bad token ttl", map[string]string{"TOKEN_TTL": "soon"}},
		{"token ttl below a second", map[string]string{"TOKEN_TTL": "10ms"}},
		{"bad max open conns", map[string]string{"DB_MAX_OPEN_CONNS": "many"}},
		{"bad log queries", map[string]string{"DB_LOG_QUERIES": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadFromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
