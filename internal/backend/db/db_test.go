package db

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"sentinel-device/internal/backend/config"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu    sync.Mutex
	attrs []map[string]slog.Value
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.attrs = append(h.attrs, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) sqlRecords() []map[string]slog.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]slog.Value
	for _, m := range h.attrs {
		if m["msg"].String() == "sql" {
			out = append(out, m)
		}
	}
	return out
}

func openLogged(t *testing.T, handler *captureHandler) *sql.DB {
	t.Helper()
	connector, err := NewLoggingConnector(":memory:", slog.New(handler))
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	db := sql.OpenDB(connector)
	// Every :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoggingConnector_nilLoggerUsesDefault(t *testing.T) {
	conn, err := NewLoggingConnector(":memory:", nil)
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	if conn.(*loggingConnector).logger == nil {
		t.Fatal("logger is nil")
	}
}

func TestLoggingConnector_logsStatements(t *testing.T) {
	handler := &captureHandler{}
	db := openLogged(t, handler)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (name) VALUES (?)`, "strap"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM t WHERE id = ?`, 1).Scan(&name); err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "strap" {
		t.Fatalf("name = %q, want strap", name)
	}

	recs := handler.sqlRecords()
	if len(recs) < 3 {
		t.Fatalf("got %d sql records, want at least 3", len(recs))
	}
	var sawInsert, sawQuery bool
	for _, r := range recs {
		q := r["sql"].String()
		if strings.HasPrefix(q, "INSERT") && r["op"].String() == "exec" {
			sawInsert = true
			if got := r["args"].String(); !strings.Contains(got, "strap") {
				t.Errorf("insert args = %s, want to contain strap", got)
			}
		}
		if strings.HasPrefix(q, "SELECT") && r["op"].String() == "query" {
			sawQuery = true
		}
	}
	if !sawInsert || !sawQuery {
		t.Errorf("insert logged = %v, query logged = %v", sawInsert, sawQuery)
	}
}

func TestLoggingConnector_logsErrors(t *testing.T) {
	handler := &captureHandler{}
	db := openLogged(t, handler)

	if _, err := db.Exec(`INSERT INTO missing VALUES (1)`); err == nil {
		t.Fatal("expected error")
	}
	recs := handler.sqlRecords()
	if len(recs) == 0 {
		t.Fatal("no sql record")
	}
	if _, ok := recs[len(recs)-1]["error"]; !ok {
		t.Error("failed statement logged without error attribute")
	}
}

func TestFormatArg(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{[]byte("abc"), "abc"},
		{int64(42), "42"},
	}
	for _, tt := range tests {
		if got := formatArg(tt.in); got != tt.want {
			t.Errorf("formatArg(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDSN(t *testing.T) {
	if got := DSN("data/app.db"); got != "file:data/app.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL" {
		t.Errorf("DSN(path) = %q", got)
	}
	if got := DSN("file:x.db?mode=ro"); !strings.HasPrefix(got, "file:x.db?mode=ro&_foreign_keys=on") {
		t.Errorf("DSN(uri) = %q", got)
	}
}

func TestOpen_createsDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "backend.db")
	cfg := config.Config{
		SQLiteDriver:       "sqlite3",
		SQLitePath:         path,
		SQLiteMaxOpenConns: 1,
		SQLiteMaxIdleConns: 1,
	}
	conn, err := Open(cfg, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(conn) }()

	var ok int
	if err := conn.QueryRow(`SELECT 1`).Scan(&ok); err != nil || ok != 1 {
		t.Fatalf("SELECT 1 = %d, %v", ok, err)
	}
}

func TestClose_nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v", err)
	}
}
