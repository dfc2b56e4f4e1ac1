package readings

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sentinel-device/internal/backend/httpapi"
)

// maxPayload bounds POST /data bodies. Devices render at most 512 bytes.
const maxPayload = 4 << 10

type Controller struct {
	repository Repository
	logger     *slog.Logger
	now        func() time.Time
}

func NewController(repository Repository, logger *slog.Logger) *Controller {
	return &Controller{repository: repository, logger: logger, now: time.Now}
}

// RegisterRoutes mounts the endpoints. guard wraps the ones that need a bearer token.
func (c *Controller) RegisterRoutes(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	mux.Handle("POST /data", guard(http.HandlerFunc(c.handleData)))
	mux.Handle("GET /devices/{id}/latest", guard(http.HandlerFunc(c.handleLatest)))
}

func (c *Controller) handleData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpapi.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		httpapi.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if doc.DeviceID == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "missing device_id")
		return
	}

	id, err := c.repository.Insert(r.Context(), doc, body, c.now())
	if err != nil {
		c.logger.Error("store reading failed", "deviceID", doc.DeviceID, "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}
	c.logger.Debug("reading stored", "deviceID", doc.DeviceID, "id", id)
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id})
}

func (c *Controller) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "missing device id")
		return
	}

	limit := 1
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			httpapi.WriteError(w, http.StatusBadRequest, "'limit' must be an integer in 1..100")
			return
		}
		limit = n
	}

	latest, err := c.repository.Latest(r.Context(), id, limit)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(latest) == 0 {
		httpapi.WriteError(w, http.StatusNotFound, "no readings for device")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, latest)
}
