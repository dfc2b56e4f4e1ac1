package migrate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun_appliesOnce(t *testing.T) {
	db := openMemory(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	n, err := Run(ctx, db, logger)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if n == 0 {
		t.Fatal("first run applied nothing")
	}

	n, err = Run(ctx, db, logger)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n != 0 {
		t.Fatalf("second run applied %d migrations, want 0", n)
	}

	for _, table := range []string{"devices", "readings", "issued_tokens"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestPendingMigrations_orderAndFilter(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0002_second.sql": {Data: []byte("SELECT 2;")},
		"sql/0001_first.sql":  {Data: []byte("SELECT 1;")},
		"sql/0003_third.sql":  {Data: []byte("SELECT 3;")},
		"sql/README.md":       {Data: []byte("notes")},
		"sql/1_bad.sql":       {Data: []byte("SELECT 0;")},
	}

	got, err := pendingMigrations(fsys, map[string]bool{"0002": true})
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d migrations, want 2", len(got))
	}
	if got[0].filename() != "0001_first.sql" || got[1].filename() != "0003_third.sql" {
		t.Errorf("order = %s, %s", got[0].filename(), got[1].filename())
	}
}

func TestApply_rollsBackOnFailure(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	if err := ensureMigrationsTable(ctx, db); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	err := apply(ctx, db, migration{version: "0009", name: "broken", body: "CREATE TABLE ok (id INTEGER); NOT SQL;"})
	if err == nil {
		t.Fatal("expected error")
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		t.Fatalf("appliedVersions: %v", err)
	}
	if applied["0009"] {
		t.Error("failed migration recorded as applied")
	}
}
