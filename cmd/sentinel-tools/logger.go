package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"sentinel-device/internal/logging"
)

func commandLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), logging.Options{Level: level, AppEnv: "dev"}, version, "sentinel-tools")
}
