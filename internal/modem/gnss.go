package modem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sentinel-device/internal/telemetry"
)

var ErrNoFix = errors.New("modem: no gnss fix")

const (
	knotsToKmh = 1.852
	// nominalUERE converts HDOP into an approximate horizontal error in metres.
	nominalUERE = 5.0
)

// Fix is a parsed +CGNSSINFO report.
type Fix struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	SpeedKmh   float64
	HDOP       float64
	Satellites int
}

func (f Fix) Position() telemetry.Position {
	return telemetry.Position{
		Latitude:   f.Latitude,
		Longitude:  f.Longitude,
		Speed:      f.SpeedKmh,
		Altitude:   f.Altitude,
		Accuracy:   f.HDOP * nominalUERE,
		Satellites: f.Satellites,
	}
}

func (d *Device) EnableGNSS(ctx context.Context) error {
	_, err := d.command(ctx, "AT+CGNSSPWR=1", cmdTimeout)
	return err
}

func (d *Device) DisableGNSS(ctx context.Context) error {
	_, err := d.command(ctx, "AT+CGNSSPWR=0", cmdTimeout)
	return err
}

func (d *Device) ReadGNSS(ctx context.Context) (Fix, error) {
	lines, err := d.command(ctx, "AT+CGNSSINFO", cmdTimeout)
	if err != nil {
		return Fix{}, err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "+CGNSSINFO:") {
			return parseGNSSInfo(l)
		}
	}
	return Fix{}, ErrNoFix
}

// parseGNSSInfo accepts the A76xx layout, which reports decimal degrees and
// four constellation counts, and the older SIM7600 layout with three counts
// and ddmm.mmmm coordinates.
func parseGNSSInfo(line string) (Fix, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "+CGNSSINFO:"))
	f := strings.Split(rest, ",")
	if strings.Trim(rest, ", ") == "" {
		return Fix{}, ErrNoFix
	}

	var svCount int
	var degrees bool
	switch len(f) {
	case 17:
		svCount, degrees = 4, true
	case 16:
		svCount, degrees = 3, false
	default:
		return Fix{}, fmt.Errorf("modem: unexpected gnss field count %d in %q", len(f), line)
	}

	var fix Fix
	for _, s := range f[1 : 1+svCount] {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			fix.Satellites += n
		}
	}

	i := 1 + svCount
	lat, err := parseCoordinate(f[i], f[i+1], degrees)
	if err != nil {
		return Fix{}, err
	}
	lon, err := parseCoordinate(f[i+2], f[i+3], degrees)
	if err != nil {
		return Fix{}, err
	}
	fix.Latitude, fix.Longitude = lat, lon

	// date, time, altitude, speed, course, PDOP, HDOP, VDOP
	tail := f[i+4:]
	fix.Altitude = parseFloatOr(tail[2], 0)
	fix.SpeedKmh = parseFloatOr(tail[3], 0) * knotsToKmh
	fix.HDOP = parseFloatOr(tail[6], 0)
	return fix, nil
}

func parseCoordinate(value, hemisphere string, degrees bool) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrNoFix
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("modem: coordinate %q: %w", value, err)
	}
	if !degrees {
		whole := float64(int(v / 100))
		v = whole + (v-whole*100)/60
	}
	switch strings.TrimSpace(hemisphere) {
	case "S", "W":
		v = -v
	}
	return v, nil
}

func parseFloatOr(s string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return v
}
