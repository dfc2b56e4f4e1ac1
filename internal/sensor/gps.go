package sensor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sentinel-device/internal/modem"
	"sentinel-device/internal/shared"
	"sentinel-device/internal/telemetry"
)

// GNSS is the modem's positioning engine.
type GNSS interface {
	Open() error
	EnableGNSS(ctx context.Context) error
	ReadGNSS(ctx context.Context) (modem.Fix, error)
}

type GPSOptions struct {
	Interval      time.Duration
	EnableTimeout time.Duration
	ReadTimeout   time.Duration
	SendTimeout   time.Duration
}

func DefaultGPSOptions() GPSOptions {
	return GPSOptions{
		Interval:      30 * time.Second,
		EnableTimeout: 10 * time.Second,
		ReadTimeout:   5 * time.Second,
		SendTimeout:   time.Second,
	}
}

// GPS polls the modem for fixes. The modem lock is held only for the AT
// exchange, never across the queue send.
type GPS struct {
	gnss     GNSS
	lock     *shared.Lock
	messages *shared.Queue[telemetry.Message]
	opts     GPSOptions
	logger   *slog.Logger
	enabled  bool
}

func NewGPS(gnss GNSS, lock *shared.Lock, messages *shared.Queue[telemetry.Message], opts GPSOptions, logger *slog.Logger) *GPS {
	return &GPS{
		gnss:     gnss,
		lock:     lock,
		messages: messages,
		opts:     opts,
		logger:   logger.With("component", "gps"),
	}
}

func (g *GPS) enable(ctx context.Context) bool {
	if err := g.gnss.Open(); err != nil {
		g.logger.Warn("gps: modem port unavailable", "error", err)
		return false
	}
	err := g.lock.Do(ctx, g.opts.EnableTimeout, func() error {
		return g.gnss.EnableGNSS(ctx)
	})
	if err != nil {
		g.logger.Warn("gps: enable failed", "error", err)
		return false
	}
	g.enabled = true
	g.logger.Info("gps: enabled, waiting for fix")
	return true
}

// Sample runs one cycle and reports whether a fix was queued.
func (g *GPS) Sample(ctx context.Context) bool {
	if !g.enabled && !g.enable(ctx) {
		return false
	}

	var fix modem.Fix
	err := g.lock.Do(ctx, g.opts.ReadTimeout, func() error {
		var err error
		fix, err = g.gnss.ReadGNSS(ctx)
		return err
	})
	switch {
	case errors.Is(err, shared.ErrLockTimeout):
		g.logger.Info("gps: modem busy, skipping read")
		return false
	case errors.Is(err, modem.ErrNoFix):
		g.logger.Debug("gps: no fix yet")
		return false
	case err != nil:
		// The modem may have been powered down; re-enable next cycle.
		g.logger.Warn("gps: read failed", "error", err)
		g.enabled = false
		return false
	}

	pos := fix.Position()
	if err := g.messages.Send(ctx, telemetry.PositionMessage(pos), g.opts.SendTimeout); err != nil {
		g.logger.Warn("gps: fix dropped", "error", err)
		return false
	}
	g.logger.Info("gps: fix",
		"lat", pos.Latitude,
		"lon", pos.Longitude,
		"speed", pos.Speed,
		"alt", pos.Altitude,
		"satellites", pos.Satellites,
	)
	return true
}

func (g *GPS) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()

	g.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Sample(ctx)
		}
	}
}
