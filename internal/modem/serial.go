package modem

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens the modem UART in 8N1 mode.
func OpenSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", name, err)
	}
	return p, nil
}
