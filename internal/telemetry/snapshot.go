package telemetry

// Snapshot is the running composite of the most recent valid value per field.
// The zero value is an empty snapshot ready for use.
type Snapshot struct {
	Fields Fields
	// Seen records which fields have been set at least once.
	Seen Validity
}

// Merge overwrites exactly the fields m marks valid and leaves the rest alone.
func (s *Snapshot) Merge(m Message) {
	f, v := m.Fields, m.Valid

	if v.Temperature {
		s.Fields.Temperature = f.Temperature
		s.Seen.Temperature = true
	}
	if v.Humidity {
		s.Fields.Humidity = f.Humidity
		s.Seen.Humidity = true
	}
	if v.GasPPM {
		s.Fields.GasPPM = f.GasPPM
		s.Seen.GasPPM = true
	}
	if v.AccelTotal {
		s.Fields.AccelTotal = f.AccelTotal
		s.Seen.AccelTotal = true
	}
	if v.Pitch {
		s.Fields.Pitch = f.Pitch
		s.Seen.Pitch = true
	}
	if v.Roll {
		s.Fields.Roll = f.Roll
		s.Seen.Roll = true
	}
	if v.AccelZ {
		s.Fields.AccelZ = f.AccelZ
		s.Seen.AccelZ = true
	}
	if v.HeartRate {
		s.Fields.HeartRate = f.HeartRate
		s.Seen.HeartRate = true
	}
	if v.Battery {
		s.Fields.Battery = f.Battery
		s.Seen.Battery = true
	}
	if v.Steps {
		s.Fields.Steps = f.Steps
		s.Seen.Steps = true
	}
	if v.FallDetected {
		s.Fields.FallDetected = f.FallDetected
		s.Seen.FallDetected = true
	}
	if v.Latitude {
		s.Fields.Latitude = f.Latitude
		s.Seen.Latitude = true
	}
	if v.Longitude {
		s.Fields.Longitude = f.Longitude
		s.Seen.Longitude = true
	}
	if v.Speed {
		s.Fields.Speed = f.Speed
		s.Seen.Speed = true
	}
	if v.Altitude {
		s.Fields.Altitude = f.Altitude
		s.Seen.Altitude = true
	}
	if v.Accuracy {
		s.Fields.Accuracy = f.Accuracy
		s.Seen.Accuracy = true
	}
	if v.Satellites {
		s.Fields.Satellites = f.Satellites
		s.Seen.Satellites = true
	}
}
