package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sentinel-device/internal/ble"
)

func newHRDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "hr-decode <hex>",
		Short:   "Decode a Heart Rate Measurement notification",
		Example: "  sentinel-tools hr-decode 0048\n  sentinel-tools hr-decode \"01 2c 01\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(args[0])
			data, err := hex.DecodeString(raw)
			if err != nil {
				return fmt.Errorf("invalid hex %q: %w", args[0], err)
			}
			bpm, err := ble.DecodeHeartRate(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bpm\n", bpm)
			return nil
		},
	}
}
