package readings

import (
	"database/sql"
	"log/slog"
	"net/http"
)

func RegisterFeature(mux *http.ServeMux, db *sql.DB, guard func(http.Handler) http.Handler, logger *slog.Logger) {
	NewController(NewRepository(db), logger).RegisterRoutes(mux, guard)
}
