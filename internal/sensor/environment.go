// Package sensor holds the producers that sample local hardware and push
// partial messages onto the ingress queue.
package sensor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"sentinel-device/internal/shared"
	"sentinel-device/internal/telemetry"
)

const (
	minCelsius  = -40.0
	maxCelsius  = 80.0
	minHumidity = 0.0
	maxHumidity = 100.0

	tempDelta     = 0.1
	humidityDelta = 1.0

	// A first 0.0 after a reading this far from zero is treated as a glitch.
	zeroGlitchCelsius = 2.0
)

type Reading struct {
	Celsius  float64
	Humidity float64
}

func (r Reading) plausible() bool {
	return !math.IsNaN(r.Celsius) && !math.IsNaN(r.Humidity) &&
		r.Celsius >= minCelsius && r.Celsius <= maxCelsius &&
		r.Humidity >= minHumidity && r.Humidity <= maxHumidity
}

// EnvReader is a temperature and humidity sensor.
type EnvReader interface {
	Sense() (Reading, error)
}

// envFilter decides which readings are worth sending.
type envFilter struct {
	last     Reading
	hasLast  bool
	lastZero bool
}

// changed reports whether r differs enough from the last sent reading.
func (f *envFilter) changed(r Reading) bool {
	if !r.plausible() {
		return false
	}

	zero := r.Celsius == 0
	defer func() { f.lastZero = zero }()

	if zero && !f.lastZero && f.hasLast && math.Abs(f.last.Celsius) > zeroGlitchCelsius {
		return false
	}
	if f.hasLast &&
		math.Abs(r.Celsius-f.last.Celsius) < tempDelta &&
		math.Abs(r.Humidity-f.last.Humidity) < humidityDelta {
		return false
	}
	return true
}

// sent records r as the baseline for later deltas.
func (f *envFilter) sent(r Reading) {
	f.last = r
	f.hasLast = true
}

// Environment samples temperature and humidity and emits changed readings.
type Environment struct {
	reader      EnvReader
	messages    *shared.Queue[telemetry.Message]
	interval    time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
	filter      envFilter
}

func NewEnvironment(reader EnvReader, messages *shared.Queue[telemetry.Message], interval time.Duration, logger *slog.Logger) *Environment {
	return &Environment{
		reader:      reader,
		messages:    messages,
		interval:    interval,
		sendTimeout: time.Second,
		logger:      logger.With("component", "environment"),
	}
}

// Sample reads once and reports whether a message was queued.
func (e *Environment) Sample(ctx context.Context) bool {
	r, err := e.reader.Sense()
	if err != nil {
		e.logger.Warn("environment: read failed", "error", err)
		return false
	}
	if !r.plausible() {
		e.logger.Warn("environment: implausible reading skipped", "celsius", r.Celsius, "humidity", r.Humidity)
		return false
	}
	if !e.filter.changed(r) {
		e.logger.Debug("environment: unchanged", "celsius", r.Celsius, "humidity", r.Humidity)
		return false
	}

	if err := e.messages.Send(ctx, telemetry.EnvironmentMessage(r.Celsius, r.Humidity), e.sendTimeout); err != nil {
		e.logger.Warn("environment: reading dropped", "error", err)
		return false
	}
	e.filter.sent(r)
	e.logger.Info("environment: reading", "celsius", r.Celsius, "humidity", r.Humidity)
	return true
}

func (e *Environment) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sample(ctx)
		}
	}
}
