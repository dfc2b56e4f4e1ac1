// Package app runs the development backend the device talks to.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sentinel-device/internal/backend/config"
	"sentinel-device/internal/backend/db"
	"sentinel-device/internal/backend/httpapi"
	"sentinel-device/internal/backend/migrate"
	"sentinel-device/internal/backend/readings"
	"sentinel-device/internal/backend/token"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteLogQueries", cfg.SQLiteLogQueries,
		"tokenTTL", cfg.TokenTTL,
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if _, err := migrate.Run(ctx, dbConn, logger); err != nil {
		return err
	}

	issuer := token.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	mux := httpapi.NewMux(cfg, dbConn, issuer, logger)
	readings.RegisterFeature(mux, dbConn, httpapi.RequireBearer(issuer), logger)

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
