// Package app wires the device tasks together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sentinel-device/internal/ble"
	"sentinel-device/internal/config"
	"sentinel-device/internal/modem"
	"sentinel-device/internal/mqtt"
	"sentinel-device/internal/pipeline"
	"sentinel-device/internal/sensor"
	"sentinel-device/internal/shared"
	"sentinel-device/internal/transport"
	"sentinel-device/internal/wifi"
)

const (
	modemLockTimeout  = 5 * time.Second
	cellularHTTPLimit = 30 * time.Second
	statusLockTimeout = 100 * time.Millisecond
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"deviceID", cfg.DeviceID,
		"backendURL", cfg.BackendURL,
		"wifiInterface", cfg.WiFiInterface,
		"wifiSSID", cfg.WiFiSSID,
		"modemPort", cfg.ModemPort,
		"bleAdapter", cfg.BLEAdapter,
		"strapAddress", cfg.StrapAddress,
		"queueCapacity", cfg.QueueCapacity,
		"bme280", cfg.BME280Enabled,
		"gps", cfg.GPSEnabled,
		"mqttBroker", cfg.MQTTBroker,
	)

	// Without the lock, status and queues nothing can run safely.
	res, err := shared.NewResources(cfg.QueueCapacity)
	if err != nil {
		return fmt.Errorf("core resources: %w", err)
	}

	var radio transport.WiFi = wifi.Disabled{}
	nm, err := wifi.Open(cfg.WiFiInterface, logger)
	if err != nil {
		logger.Warn("wifi unavailable (continuing with cellular only)", "error", err)
	} else {
		defer func() { _ = nm.Close() }()
		radio = nm
	}

	var (
		device   *modem.Device
		cellular transport.Modem
		power    transport.Power
	)
	if cfg.CellularEnabled() {
		pins, err := modem.OpenPins(cfg.ModemPowerPin, cfg.ModemPwrKeyPin, cfg.ModemResetPin)
		if err != nil {
			logger.Warn("modem gpio unavailable (continuing without cellular)", "error", err)
		} else {
			device = modem.NewDevice(func() (modem.Port, error) {
				return modem.OpenSerial(cfg.ModemPort, cfg.ModemBaud)
			}, logger)
			defer func() { _ = device.Close() }()
			cellular, power = device, pins
		}
	}

	opts := transport.DefaultOptions()
	opts.MinWiFiFailures = cfg.MinWiFiFailures
	opts.CellularCooldown = cfg.CellularCooldown
	opts.AllowSMSOnly = cfg.CellularAllowSMSOnly
	opts.ModemLockTimeout = modemLockTimeout
	opts.StatusLockTimeout = statusLockTimeout
	manager := transport.NewManager(radio, cellular, power, res, opts, logger)

	var mirror *mqtt.Client
	if cfg.MQTTEnabled() {
		mirror, err = mqtt.NewClient(cfg, logger)
		if err != nil {
			return err
		}
		defer mirror.Disconnect()
		manager.OnCycle(func(s transport.Session) {
			err := mirror.PublishStatus(mqtt.DeviceStatus{
				DeviceID:          cfg.DeviceID,
				NetworkConnected:  s.Connected(),
				WiFiConnected:     s.WiFiConnected,
				CellularConnected: s.CellularConnected,
				ModemEnabled:      s.ModemEnabled,
				WiFiFailures:      s.WiFiFailures,
			})
			if err != nil {
				logger.Debug("status mirror skipped", "error", err)
			}
		})
	}

	wifiTransport := pipeline.NewBreakerTransport(pipeline.NewHTTPTransport(cfg.BackendURL, cfg.AuthTimeout), logger)
	var cellTransport pipeline.Transport
	if device != nil {
		cellTransport = pipeline.NewBreakerTransport(
			pipeline.NewCellularTransport(device, res.ModemLock, cfg.BackendURL, modemLockTimeout, cellularHTTPLimit),
			logger,
		)
	}
	selector := pipeline.NewSelector(res.Status, manager, wifiTransport, cellTransport)

	authOpts := pipeline.DefaultAuthOptions()
	authOpts.Attempts = cfg.AuthRetryAttempts
	authOpts.RetryDelay = cfg.AuthRetryDelay
	authOpts.RefreshMargin = cfg.TokenRefreshMargin
	authOpts.DefaultTTL = cfg.TokenDefaultTTL
	authOpts.Timeout = cfg.AuthTimeout
	auth := pipeline.NewAuthenticator(pipeline.Credentials{
		Username: cfg.AuthUsername,
		Password: cfg.AuthPassword,
	}, selector, authOpts, logger)

	processor := pipeline.NewProcessor(res, cfg.DeviceID, cfg.PayloadLimit, logger)
	if mirror != nil {
		processor.SetMirror(mirror)
	}
	deliverer := pipeline.NewDeliverer(res.Payloads, auth, selector, logger)

	linkOpts := ble.DefaultOptions()
	linkOpts.Target = cfg.StrapAddress
	link := ble.NewLink(ble.NewBlueZ(cfg.BLEAdapter, logger), res.Messages, linkOpts, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if mirror != nil {
		g.Go(func() error {
			// Short first attempt so a missing broker does not block startup.
			connectCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
			defer cancel()
			if err := mirror.Connect(connectCtx); err != nil {
				logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
			}
			return nil
		})
	}

	creds := transport.Credentials{SSID: cfg.WiFiSSID, Password: cfg.WiFiPassword, APN: cfg.CellularAPN}
	g.Go(func() error {
		return ignoreCanceled(manager.Run(gctx, creds, cfg.MaintainInterval))
	})
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error { return deliverer.Run(gctx) })
	g.Go(func() error {
		if err := link.Run(gctx); err != nil {
			logger.Warn("ble link could not be started (continuing without heart rate)", "error", err)
		}
		return nil
	})

	if cfg.BME280Enabled {
		bme, err := sensor.OpenBME280(cfg.BME280Address)
		if err != nil {
			logger.Warn("bme280 unavailable (continuing without environment)", "error", err)
		} else {
			defer func() { _ = bme.Close() }()
			env := sensor.NewEnvironment(bme, res.Messages, cfg.SensorPollInterval, logger)
			g.Go(func() error { return env.Run(gctx) })
		}
	}

	if cfg.GPSEnabled && device != nil {
		gpsOpts := sensor.DefaultGPSOptions()
		gpsOpts.Interval = cfg.GPSPollInterval
		gps := sensor.NewGPS(device, res.ModemLock, res.Messages, gpsOpts, logger)
		g.Go(func() error { return gps.Run(gctx) })
	}

	return supervise(g, cancel, func() error {
		return res.Status.Set(ctx, shared.SystemReady, statusLockTimeout)
	}, logger)
}

// supervise marks the system ready and waits for the tasks in g. When ready
// fails the tasks are cancelled and drained before returning.
func supervise(g *errgroup.Group, cancel context.CancelFunc, ready func() error, logger *slog.Logger) error {
	if err := ready(); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("mark system ready: %w", err)
	}
	logger.Info("system ready")

	err := g.Wait()
	logger.Info("device stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
