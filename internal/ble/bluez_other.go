//go:build !linux

package ble

import (
	"errors"
	"log/slog"
)

var errNoBlueZ = errors.New("ble: BlueZ is only available on linux")

// BlueZ is unavailable off linux. Enable always fails, so the link never
// starts.
type BlueZ struct{}

func NewBlueZ(string, *slog.Logger) *BlueZ { return &BlueZ{} }

func (*BlueZ) Enable() error                  { return errNoBlueZ }
func (*BlueZ) StartScan(string, Poster) error { return errNoBlueZ }
func (*BlueZ) StopScan() error                { return nil }
func (*BlueZ) Scanning() bool                 { return false }

func (*BlueZ) NewClient(uint64, Poster) (Client, error) { return nil, errNoBlueZ }
