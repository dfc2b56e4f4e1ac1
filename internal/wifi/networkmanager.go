// Package wifi drives the station radio through NetworkManager's D-Bus API.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"sentinel-device/internal/shared"
)

const (
	nmDest          = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface         = "org.freedesktop.NetworkManager"
	deviceIface     = nmIface + ".Device"
	wirelessIface   = deviceIface + ".Wireless"
	apIface         = nmIface + ".AccessPoint"
	settingsConnIfc = nmIface + ".Settings.Connection"

	deviceStateActivated = 100

	scanSettle = 3 * time.Second
	joinPoll   = 500 * time.Millisecond
)

var (
	ErrNotFound    = errors.New("wifi: ssid not in range")
	ErrJoinTimeout = errors.New("wifi: join timed out")
	ErrUnavailable = errors.New("wifi: radio unavailable")
)

// NetworkManager controls one wireless interface.
type NetworkManager struct {
	conn   *dbus.Conn
	device dbus.ObjectPath
	iface  string
	logger *slog.Logger

	// profile is the connection this process created last; it is replaced on
	// every join so repeated attempts do not pile up saved profiles.
	profile dbus.ObjectPath

	sleep func(context.Context, time.Duration) error
}

func Open(iface string, logger *slog.Logger) (*NetworkManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("wifi: system bus: %w", err)
	}

	var device dbus.ObjectPath
	if err := conn.Object(nmDest, nmPath).Call(nmIface+".GetDeviceByIpIface", 0, iface).Store(&device); err != nil {
		return nil, fmt.Errorf("wifi: device %s: %w", iface, err)
	}

	return &NetworkManager{
		conn:   conn,
		device: device,
		iface:  iface,
		logger: logger.With("component", "wifi", "iface", iface),
		sleep:  shared.Sleep,
	}, nil
}

// Connected reports whether the interface has an activated connection.
func (n *NetworkManager) Connected(ctx context.Context) bool {
	v, err := n.conn.Object(nmDest, n.device).GetProperty(deviceIface + ".State")
	if err != nil {
		n.logger.Debug("wifi: read device state", "error", err)
		return false
	}
	state, ok := v.Value().(uint32)
	return ok && state == deviceStateActivated
}

// Scan runs a scan targeted at ssid and reports whether it is in range.
func (n *NetworkManager) Scan(ctx context.Context, ssid string) (bool, error) {
	opts := map[string]dbus.Variant{
		"ssids": dbus.MakeVariant([][]byte{[]byte(ssid)}),
	}
	call := n.conn.Object(nmDest, n.device).CallWithContext(ctx, wirelessIface+".RequestScan", 0, opts)
	if call.Err != nil {
		// NetworkManager refuses while a scan is already running; the cached
		// list is still usable.
		n.logger.Debug("wifi: request scan", "error", call.Err)
	} else if err := n.sleep(ctx, scanSettle); err != nil {
		return false, err
	}

	ap, err := n.findAccessPoint(ctx, ssid)
	if err != nil {
		return false, err
	}
	return ap != "", nil
}

// Join connects to ssid and waits up to timeout for activation.
func (n *NetworkManager) Join(ctx context.Context, ssid, password string, timeout time.Duration) error {
	ap, err := n.findAccessPoint(ctx, ssid)
	if err != nil {
		return err
	}
	if ap == "" {
		return ErrNotFound
	}

	n.dropProfile(ctx)

	var profile, active dbus.ObjectPath
	nm := n.conn.Object(nmDest, nmPath)
	call := nm.CallWithContext(ctx, nmIface+".AddAndActivateConnection", 0, connectionSettings(ssid, password), n.device, ap)
	if err := call.Store(&profile, &active); err != nil {
		return fmt.Errorf("wifi: activate %q: %w", ssid, err)
	}
	n.profile = profile

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.Connected(ctx) {
			return nil
		}
		if err := n.sleep(ctx, joinPoll); err != nil {
			return err
		}
	}
	return ErrJoinTimeout
}

func (n *NetworkManager) Close() error {
	return n.conn.Close()
}

func (n *NetworkManager) findAccessPoint(ctx context.Context, ssid string) (dbus.ObjectPath, error) {
	var aps []dbus.ObjectPath
	call := n.conn.Object(nmDest, n.device).CallWithContext(ctx, wirelessIface+".GetAllAccessPoints", 0)
	if err := call.Store(&aps); err != nil {
		return "", fmt.Errorf("wifi: list access points: %w", err)
	}
	for _, ap := range aps {
		v, err := n.conn.Object(nmDest, ap).GetProperty(apIface + ".Ssid")
		if err != nil {
			continue
		}
		if b, ok := v.Value().([]byte); ok && string(b) == ssid {
			return ap, nil
		}
	}
	return "", nil
}

func (n *NetworkManager) dropProfile(ctx context.Context) {
	if n.profile == "" {
		return
	}
	call := n.conn.Object(nmDest, n.profile).CallWithContext(ctx, settingsConnIfc+".Delete", 0)
	if call.Err != nil {
		n.logger.Debug("wifi: delete previous profile", "profile", n.profile, "error", call.Err)
	}
	n.profile = ""
}

func connectionSettings(ssid, password string) map[string]map[string]dbus.Variant {
	s := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant("sentinel-" + ssid),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
	}
	if password != "" {
		s["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(password),
		}
	}
	return s
}

// Disabled stands in when no wireless interface can be controlled. It never
// connects, which leaves the cellular path as the only option.
type Disabled struct{}

func (Disabled) Connected(context.Context) bool { return false }

func (Disabled) Scan(context.Context, string) (bool, error) { return false, ErrUnavailable }

func (Disabled) Join(context.Context, string, string, time.Duration) error { return ErrUnavailable }
