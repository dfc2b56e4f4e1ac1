package httpapi

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"sentinel-device/internal/backend/token"
)

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authData struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type authHandler struct {
	username string
	password string
	issuer   *token.Issuer
	db       *sql.DB
	logger   *slog.Logger
}

func (h *authHandler) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !equal(req.Username, h.username) || !equal(req.Password, h.password) {
		h.logger.Warn("auth rejected", "username", req.Username)
		WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	issued, err := h.issuer.Issue(req.Username)
	if err != nil {
		h.logger.Error("issue token failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	if _, err := h.db.ExecContext(r.Context(),
		`INSERT INTO issued_tokens (id, subject, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
		issued.ID, issued.Subject,
		issued.IssuedAt.Format(time.RFC3339), issued.ExpiresAt.Format(time.RFC3339),
	); err != nil {
		// The audit row is best effort.
		h.logger.Warn("record issued token failed", "error", err)
	}

	WriteJSON(w, http.StatusOK, map[string]authData{
		"data": {Token: issued.Token, ExpiresIn: issued.ExpiresIn()},
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func registerAuth(mux *http.ServeMux, h *authHandler) {
	mux.HandleFunc("POST /auth", h.handleAuth)
}
