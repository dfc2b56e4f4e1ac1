// Command strap-emulator advertises a BLE Heart Rate service with a
// drifting reading so a device can be tested without a chest strap.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sentinel-device/internal/ble"
	"sentinel-device/internal/logging"
)

var version = "dev"
var appName = "strap-emulator"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		adapter  string
		name     string
		start    int
		lo, hi   int
		interval time.Duration
		seed     uint64
	)
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Emulate a BLE heart-rate strap",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lo < ble.MinBPM || hi > ble.MaxBPM || lo > hi {
				return fmt.Errorf("bpm band %d..%d must sit inside %d..%d", lo, hi, ble.MinBPM, ble.MaxBPM)
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}

			logger := logging.New(logging.Options{Level: slog.LevelInfo, AppEnv: "dev"}, version, appName)
			slog.SetDefault(logger)

			walk := ble.NewRateWalk(start, lo, hi, seed)
			logger.Info("starting", "adapter", adapter, "name", name, "band", fmt.Sprintf("%d..%d", lo, hi))
			return ble.NewEmulator(adapter, name, logger).Run(cmd.Context(), walk.Next, interval)
		},
	}
	cmd.Flags().StringVar(&adapter, "adapter", "hci0", "HCI adapter")
	cmd.Flags().StringVar(&name, "name", "SENTINEL-HR", "Advertised local name")
	cmd.Flags().IntVar(&start, "start", 72, "Initial heart rate")
	cmd.Flags().IntVar(&lo, "min", 55, "Lowest emitted heart rate")
	cmd.Flags().IntVar(&hi, "max", 110, "Highest emitted heart rate")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Notification interval")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (0 picks one)")
	return cmd
}
