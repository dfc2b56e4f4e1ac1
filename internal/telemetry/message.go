// Package telemetry holds the shared reading schema exchanged between
// producers and the delivery pipeline.
package telemetry

// Fields carries one value per reading kind. A value is only meaningful when
// the matching bit in Validity is set.
type Fields struct {
	Temperature float64
	Humidity    float64
	GasPPM      float64

	AccelTotal float64
	Pitch      float64
	Roll       float64
	AccelZ     float64

	HeartRate    int
	Battery      int
	Steps        uint32
	FallDetected bool

	Latitude   float64
	Longitude  float64
	Speed      float64
	Altitude   float64
	Accuracy   float64
	Satellites int
}

// Validity marks which Fields a message actually carries.
type Validity struct {
	Temperature bool
	Humidity    bool
	GasPPM      bool

	AccelTotal bool
	Pitch      bool
	Roll       bool
	AccelZ     bool

	HeartRate    bool
	Battery      bool
	Steps        bool
	FallDetected bool

	Latitude   bool
	Longitude  bool
	Speed      bool
	Altitude   bool
	Accuracy   bool
	Satellites bool
}

// Any reports whether at least one field is marked valid.
func (v Validity) Any() bool {
	return v != Validity{}
}

// Message is a partial reading emitted by a producer. It is treated as
// immutable once enqueued.
type Message struct {
	Fields Fields
	Valid  Validity
}

// HeartRateMessage builds a message carrying only a heart rate.
func HeartRateMessage(bpm int) Message {
	return Message{
		Fields: Fields{HeartRate: bpm},
		Valid:  Validity{HeartRate: true},
	}
}

// EnvironmentMessage builds a message carrying temperature and humidity.
func EnvironmentMessage(celsius, humidity float64) Message {
	return Message{
		Fields: Fields{Temperature: celsius, Humidity: humidity},
		Valid:  Validity{Temperature: true, Humidity: true},
	}
}

// Position is a GNSS fix in the units of the outgoing schema.
type Position struct {
	Latitude   float64
	Longitude  float64
	Speed      float64
	Altitude   float64
	Accuracy   float64
	Satellites int
}

// PositionMessage builds a message carrying every GPS field.
func PositionMessage(p Position) Message {
	return Message{
		Fields: Fields{
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			Speed:      p.Speed,
			Altitude:   p.Altitude,
			Accuracy:   p.Accuracy,
			Satellites: p.Satellites,
		},
		Valid: Validity{
			Latitude:   true,
			Longitude:  true,
			Speed:      true,
			Altitude:   true,
			Accuracy:   true,
			Satellites: true,
		},
	}
}
