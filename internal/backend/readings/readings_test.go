package readings

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sentinel-device/internal/backend/httpapi"
	"sentinel-device/internal/backend/migrate"
	"sentinel-device/internal/backend/token"
	"sentinel-device/internal/telemetry"
)

type fixture struct {
	server *httptest.Server
	token  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := migrate.Run(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	issuer := token.NewIssuer("secret", time.Hour)
	issued, err := issuer.Issue("device")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	mux := http.NewServeMux()
	RegisterFeature(mux, db, httpapi.RequireBearer(issuer), logger)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return fixture{server: ts, token: issued.Token}
}

func (f fixture) do(t *testing.T, method, path, body string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func renderPayload(t *testing.T, deviceID string, msgs ...telemetry.Message) string {
	t.Helper()
	var snap telemetry.Snapshot
	for _, m := range msgs {
		snap.Merge(m)
	}
	payload, err := telemetry.Render(deviceID, snap, telemetry.DefaultPayloadLimit)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return string(payload)
}

func TestDataThenLatest(t *testing.T) {
	f := newFixture(t)

	first := renderPayload(t, "SENTINEL-001", telemetry.HeartRateMessage(72))
	if resp := f.do(t, http.MethodPost, "/data", first, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("first POST status = %d", resp.StatusCode)
	}
	time.Sleep(2 * time.Millisecond)
	second := renderPayload(t, "SENTINEL-001",
		telemetry.HeartRateMessage(80),
		telemetry.EnvironmentMessage(23.5, 41),
	)
	if resp := f.do(t, http.MethodPost, "/data", second, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("second POST status = %d", resp.StatusCode)
	}

	resp := f.do(t, http.MethodGet, "/devices/SENTINEL-001/latest?limit=5", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest status = %d", resp.StatusCode)
	}
	var got []Reading
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d readings, want 2", len(got))
	}

	newest := got[0]
	if newest.HeartRate == nil || *newest.HeartRate != 80 {
		t.Errorf("heart rate = %v, want 80", newest.HeartRate)
	}
	if newest.Temperature == nil || *newest.Temperature != 23.5 {
		t.Errorf("temperature = %v, want 23.5", newest.Temperature)
	}
	if newest.Humidity == nil || *newest.Humidity != 41 {
		t.Errorf("humidity = %v, want 41", newest.Humidity)
	}
	if !json.Valid(newest.Payload) {
		t.Errorf("payload is not JSON: %s", newest.Payload)
	}
	if got[1].HeartRate == nil || *got[1].HeartRate != 72 {
		t.Errorf("older heart rate = %v, want 72", got[1].HeartRate)
	}
}

func TestData_rejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		auth bool
		want int
	}{
		{"no token", `{"device_id":"X"}`, false, http.StatusUnauthorized},
		{"invalid json", `{"device_id":`, true, http.StatusBadRequest},
		{"missing device", `{"sensors":{}}`, true, http.StatusBadRequest},
		{"too large", `{"device_id":"X","pad":"` + strings.Repeat("a", maxPayload) + `"}`, true, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/data", tt.body, tt.auth)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestLatest_errors(t *testing.T) {
	f := newFixture(t)

	if resp := f.do(t, http.MethodGet, "/devices/unknown/latest", "", true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", resp.StatusCode)
	}
	for _, limit := range []string{"0", "101", "x"} {
		resp := f.do(t, http.MethodGet, "/devices/any/latest?limit="+limit, "", true)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, resp.StatusCode)
		}
	}
	if resp := f.do(t, http.MethodGet, "/devices/any/latest", "", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
}
