package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// BME280 reads temperature and humidity over I2C.
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// OpenBME280 opens the default I2C bus (usually /dev/i2c-1) and the sensor
// at addr.
func OpenBME280(addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02X: %w", addr, err)
	}
	return &BME280{bus: bus, dev: dev}, nil
}

func (b *BME280) Sense() (Reading, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Reading{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return Reading{
		Celsius: env.Temperature.Celsius(),
		// env.Humidity is fixed point at 0.00001 %rH.
		Humidity: float64(env.Humidity) / 100000.0,
	}, nil
}

func (b *BME280) Close() error {
	if err := b.dev.Halt(); err != nil {
		_ = b.bus.Close()
		return fmt.Errorf("bme280 halt: %w", err)
	}
	return b.bus.Close()
}
