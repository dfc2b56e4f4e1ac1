package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sentinel-device/internal/modem"
)

func newATCommand() *cobra.Command {
	var (
		baud    int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "at <port> <command>",
		Short:   "Send one AT command to the modem and print the response",
		Example: "  sentinel-tools at /dev/ttyUSB2 AT+CSQ",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := modem.OpenSerial(args[0], baud)
			if err != nil {
				return err
			}
			conn, err := modem.NewConn(port, commandLogger(cmd))
			if err != nil {
				_ = port.Close()
				return err
			}
			defer func() { _ = conn.Close() }()

			lines, err := conn.Command(cmd.Context(), strings.TrimSpace(args[1]), timeout)
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&baud, "baud", 115200, "UART baud rate")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Response timeout")
	return cmd
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
