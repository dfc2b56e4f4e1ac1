//go:build linux

package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// Emulator advertises a Heart Rate service and notifies measurements, so the
// link can be exercised without a physical strap.
type Emulator struct {
	adapter     *bluetooth.Adapter
	localName   string
	measurement bluetooth.Characteristic
	logger      *slog.Logger
}

func NewEmulator(adapter, localName string, logger *slog.Logger) *Emulator {
	if adapter == "" {
		adapter = "hci0"
	}
	return &Emulator{
		adapter:   bluetooth.NewAdapter(adapter),
		localName: localName,
		logger:    logger,
	}
}

func (e *Emulator) Run(ctx context.Context, next func() int, interval time.Duration) error {
	if err := e.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable: %w", err)
	}

	adv := e.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    e.localName,
		ServiceUUIDs: []bluetooth.UUID{bluetooth.ServiceUUIDHeartRate},
		Interval:     bluetooth.NewDuration(100 * time.Millisecond),
	}); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}

	// Service must be registered before advertising starts.
	if err := e.adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.ServiceUUIDHeartRate,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &e.measurement,
				UUID:   bluetooth.CharacteristicUUIDHeartRateMeasurement,
				Value:  EncodeHeartRate(0),
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
		},
	}); err != nil {
		return fmt.Errorf("add heart rate service: %w", err)
	}

	if err := adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}
	defer func() {
		if err := adv.Stop(); err != nil {
			e.logger.Warn("emulator: stop advertisement", "error", err)
		}
	}()
	e.logger.Info("emulator: advertising", "name", e.localName)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			bpm := next()
			if _, err := e.measurement.Write(EncodeHeartRate(bpm)); err != nil {
				e.logger.Debug("emulator: notify failed", "error", err)
				continue
			}
			e.logger.Debug("emulator: notified", "bpm", bpm)
		}
	}
}
