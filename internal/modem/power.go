package modem

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"sentinel-device/internal/shared"
)

// OutputPin is the part of a periph GPIO pin used for power sequencing.
type OutputPin interface {
	Out(l gpio.Level) error
}

const (
	resetPulse       = 10 * time.Millisecond
	powerKeyLow      = 100 * time.Millisecond
	powerKeyHigh     = 1000 * time.Millisecond
	shutdownSettling = 3 * time.Second
)

// Power drives the modem's supply, reset and PWRKEY lines. Enable and reset
// are optional; boards without them leave the fields nil.
type Power struct {
	Enable OutputPin
	PwrKey OutputPin
	Reset  OutputPin

	sleep func(context.Context, time.Duration) error
}

func NewPower(enable, pwrkey, reset OutputPin) *Power {
	return &Power{Enable: enable, PwrKey: pwrkey, Reset: reset, sleep: shared.Sleep}
}

// OpenPins resolves GPIO names such as "GPIO17" through periph. Empty names
// leave the corresponding line unmanaged.
func OpenPins(enable, pwrkey, reset string) (*Power, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := NewPower(nil, nil, nil)
	for _, want := range []struct {
		name string
		dst  *OutputPin
	}{
		{enable, &p.Enable},
		{pwrkey, &p.PwrKey},
		{reset, &p.Reset},
	} {
		if want.name == "" {
			continue
		}
		pin := gpioreg.ByName(want.name)
		if pin == nil {
			return nil, fmt.Errorf("gpio pin %q not found", want.name)
		}
		*want.dst = pin
	}
	return p, nil
}

// On raises the supply rail and pulses reset when wired.
func (p *Power) On(ctx context.Context) error {
	if p.Enable != nil {
		if err := p.Enable.Out(gpio.High); err != nil {
			return fmt.Errorf("modem power enable: %w", err)
		}
	}
	if p.Reset != nil {
		if err := p.Reset.Out(gpio.Low); err != nil {
			return fmt.Errorf("modem reset low: %w", err)
		}
		if err := p.sleep(ctx, resetPulse); err != nil {
			return err
		}
		if err := p.Reset.Out(gpio.High); err != nil {
			return fmt.Errorf("modem reset high: %w", err)
		}
	}
	return nil
}

// PulsePowerKey toggles the modem's power state: LOW, 100ms, HIGH, 1000ms, LOW.
func (p *Power) PulsePowerKey(ctx context.Context) error {
	if p.PwrKey == nil {
		return nil
	}
	steps := []struct {
		level gpio.Level
		hold  time.Duration
	}{
		{gpio.Low, powerKeyLow},
		{gpio.High, powerKeyHigh},
		{gpio.Low, 0},
	}
	for _, s := range steps {
		if err := p.PwrKey.Out(s.level); err != nil {
			return fmt.Errorf("modem pwrkey: %w", err)
		}
		if err := p.sleep(ctx, s.hold); err != nil {
			return err
		}
	}
	return nil
}

// Cycle switches the modem off and on again through PWRKEY.
func (p *Power) Cycle(ctx context.Context) error {
	if err := p.PulsePowerKey(ctx); err != nil {
		return err
	}
	if err := p.sleep(ctx, shutdownSettling); err != nil {
		return err
	}
	return p.PulsePowerKey(ctx)
}

// Off drops the supply rail when it is managed.
func (p *Power) Off() error {
	if p.Enable == nil {
		return nil
	}
	if err := p.Enable.Out(gpio.Low); err != nil {
		return fmt.Errorf("modem power disable: %w", err)
	}
	return nil
}
