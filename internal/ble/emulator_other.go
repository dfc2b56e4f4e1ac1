//go:build !linux

package ble

import (
	"context"
	"log/slog"
	"time"
)

type Emulator struct{}

func NewEmulator(string, string, *slog.Logger) *Emulator { return &Emulator{} }

func (*Emulator) Run(context.Context, func() int, time.Duration) error { return errNoBlueZ }
