package main

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"sentinel-device/internal/backend/db"
	"sentinel-device/internal/backend/migrate"

	_ "github.com/mattn/go-sqlite3"
)

func newMigrateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending backend schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := sql.Open("sqlite3", db.DSN(filepath.Clean(path)))
			if err != nil {
				return fmt.Errorf("db open: %w", err)
			}
			defer func() { _ = conn.Close() }()

			n, err := migrate.Run(cmd.Context(), conn, commandLogger(cmd))
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migrations applied\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "db", envOr("SQLITE_PATH", "dev/sqlite/backend.db"), "SQLite database path")
	return cmd
}
