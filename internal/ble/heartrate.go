package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Plausible physiological band for a chest strap reading.
const (
	MinBPM = 10
	MaxBPM = 250
)

const flagUint16Rate = 0x01

var (
	ErrShortPayload = errors.New("heart rate payload too short")
	ErrImplausible  = errors.New("heart rate outside plausible range")
)

// DecodeHeartRate parses a Heart Rate Measurement (0x2A37) notification.
// Bit 0 of the flags byte selects an 8-bit or a little-endian 16-bit rate.
func DecodeHeartRate(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(data))
	}

	var bpm int
	if data[0]&flagUint16Rate == 0 {
		bpm = int(data[1])
	} else {
		if len(data) < 3 {
			return 0, fmt.Errorf("%w: 16-bit rate in %d bytes", ErrShortPayload, len(data))
		}
		bpm = int(binary.LittleEndian.Uint16(data[1:3]))
	}

	if bpm < MinBPM || bpm > MaxBPM {
		return bpm, fmt.Errorf("%w: %d bpm", ErrImplausible, bpm)
	}
	return bpm, nil
}

// EncodeHeartRate builds a measurement value the way a strap sends it:
// 8-bit when the rate fits, 16-bit otherwise.
func EncodeHeartRate(bpm int) []byte {
	if bpm >= 0 && bpm <= 0xFF {
		return []byte{0x00, byte(bpm)}
	}
	out := []byte{flagUint16Rate, 0, 0}
	binary.LittleEndian.PutUint16(out[1:], uint16(bpm))
	return out
}
