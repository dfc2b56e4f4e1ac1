package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"sentinel-device/internal/backend/config"
	"sentinel-device/internal/backend/token"
)

// NewMux registers /healthz and /auth. Feature modules add their own routes.
func NewMux(cfg config.Config, db *sql.DB, issuer *token.Issuer, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, logger)
	registerAuth(mux, &authHandler{
		username: cfg.AuthUsername,
		password: cfg.AuthPassword,
		issuer:   issuer,
		db:       db,
		logger:   logger,
	})
	return mux
}

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
