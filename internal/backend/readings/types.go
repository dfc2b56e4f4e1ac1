package readings

import (
	"encoding/json"
	"time"
)

// Reading is one stored telemetry document.
type Reading struct {
	ID          string          `json:"id"`
	DeviceID    string          `json:"deviceId"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	HeartRate   *int            `json:"heartRate"`
	Temperature *float64        `json:"temperature"`
	Humidity    *int            `json:"humidity"`
	Latitude    *float64        `json:"latitude"`
	Longitude   *float64        `json:"longitude"`
	Payload     json.RawMessage `json:"payload"`
}

// Document is the subset of the device payload the backend indexes.
type Document struct {
	DeviceID string `json:"device_id"`
	Sensors  struct {
		HeartRate   *int     `json:"heart_rate"`
		Temperature *float64 `json:"temperature"`
		Humidity    *int     `json:"humidity"`
		GPS         struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		} `json:"gps"`
	} `json:"sensors"`
}
