package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// DefaultPayloadLimit bounds a rendered payload when no limit is configured.
const DefaultPayloadLimit = 512

var (
	ErrPayloadTooLarge = errors.New("telemetry: payload exceeds size limit")
	ErrInvalidValue    = errors.New("telemetry: non-finite value")
)

// Payload is a rendered JSON document ready for dispatch.
type Payload []byte

type document struct {
	DeviceID string  `json:"device_id"`
	Sensors  sensors `json:"sensors"`
}

type sensors struct {
	Steps         uint32 `json:"steps"`
	Temperature   fixed  `json:"temperature"`
	Humidity      int    `json:"humidity"`
	Gas           gas    `json:"gas"`
	FallDetected  int    `json:"fall_detected"`
	DeviceBattery int    `json:"device_battery"`
	HeartRate     int    `json:"heart_rate"`
	NoiseLevel    int    `json:"noise_level"`
	GPS           gps    `json:"gps"`
}

type gas struct {
	PPM int `json:"ppm"`
}

type gps struct {
	Latitude   fixed `json:"latitude"`
	Longitude  fixed `json:"longitude"`
	Speed      fixed `json:"speed"`
	Altitude   fixed `json:"altitude"`
	Accuracy   fixed `json:"accuracy"`
	Satellites int   `json:"satellites"`
}

// fixed renders a float with a fixed number of decimals.
type fixed struct {
	v      float64
	places int
}

func (f fixed) MarshalJSON() ([]byte, error) {
	if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
		return nil, ErrInvalidValue
	}
	return strconv.AppendFloat(nil, f.v, 'f', f.places, 64), nil
}

// Render serializes a snapshot into the backend document. It never returns a
// truncated document: a payload of limit bytes or more is ErrPayloadTooLarge.
func Render(deviceID string, s Snapshot, limit int) (Payload, error) {
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}

	f := s.Fields
	fall := 0
	if f.FallDetected {
		fall = 1
	}

	doc := document{
		DeviceID: deviceID,
		Sensors: sensors{
			Steps:         f.Steps,
			Temperature:   fixed{f.Temperature, 2},
			Humidity:      int(math.Round(f.Humidity)),
			Gas:           gas{PPM: int(math.Round(f.GasPPM))},
			FallDetected:  fall,
			DeviceBattery: f.Battery,
			HeartRate:     f.HeartRate,
			GPS: gps{
				Latitude:   fixed{f.Latitude, 6},
				Longitude:  fixed{f.Longitude, 6},
				Speed:      fixed{f.Speed, 1},
				Altitude:   fixed{f.Altitude, 1},
				Accuracy:   fixed{f.Accuracy, 1},
				Satellites: f.Satellites,
			},
		},
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("telemetry: marshal: %w", err)
	}
	if len(b) >= limit {
		return nil, fmt.Errorf("%w: %d >= %d bytes", ErrPayloadTooLarge, len(b), limit)
	}
	return Payload(b), nil
}
