package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var ErrNotOpen = errors.New("modem: uart not open")

const (
	shortTimeout = time.Second
	cmdTimeout   = 5 * time.Second
	netTimeout   = 30 * time.Second
)

// Identity is the model and firmware reported during init.
type Identity struct {
	Model    string
	Firmware string
}

// Device is the command set of a SIMCom A76xx-class modem. It does not take
// the modem lock itself; callers bracket each call with it.
type Device struct {
	open   func() (Port, error)
	logger *slog.Logger

	mu   sync.Mutex
	conn *Conn
}

func NewDevice(open func() (Port, error), logger *slog.Logger) *Device {
	return &Device{open: open, logger: logger.With("component", "modem")}
}

// Open brings up the UART. Calling it again while open is a no-op.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}
	port, err := d.open()
	if err != nil {
		return err
	}
	conn, err := NewConn(port, d.logger)
	if err != nil {
		_ = port.Close()
		return err
	}
	d.conn = conn
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *Device) current() (*Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil, ErrNotOpen
	}
	return d.conn, nil
}

func (d *Device) command(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	c, err := d.current()
	if err != nil {
		return nil, err
	}
	return c.Command(ctx, cmd, timeout)
}

// Probe runs the AT handshake.
func (d *Device) Probe(ctx context.Context) bool {
	_, err := d.command(ctx, "AT", shortTimeout)
	return err == nil
}

// Init disables echo, enables verbose errors and reads the identity.
func (d *Device) Init(ctx context.Context) (Identity, error) {
	for _, cmd := range []string{"ATE0", "AT+CMEE=2"} {
		if _, err := d.command(ctx, cmd, cmdTimeout); err != nil {
			return Identity{}, fmt.Errorf("modem init: %w", err)
		}
	}
	var id Identity
	if lines, err := d.command(ctx, "AT+CGMM", cmdTimeout); err == nil && len(lines) > 0 {
		id.Model = lines[0]
	}
	if lines, err := d.command(ctx, "AT+CGMR", cmdTimeout); err == nil && len(lines) > 0 {
		id.Firmware = strings.TrimPrefix(lines[0], "+CGMR: ")
	}
	return id, nil
}

// SetNetworkModeAuto selects automatic RAT selection. Modems without
// AT+CNMP report ErrUnsupported.
func (d *Device) SetNetworkModeAuto(ctx context.Context) error {
	_, err := d.command(ctx, "AT+CNMP=2", cmdTimeout)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Reason), "not supported") {
		return ErrUnsupported
	}
	return err
}

func (d *Device) SIMReady(ctx context.Context) (bool, error) {
	lines, err := d.command(ctx, "AT+CPIN?", cmdTimeout)
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "+CPIN:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "+CPIN:")) == "READY", nil
		}
	}
	return false, nil
}

// Registration queries EPS registration and falls back to CS registration.
func (d *Device) Registration(ctx context.Context) (RegStatus, error) {
	status := RegNoResult
	for _, q := range []struct{ cmd, prefix string }{
		{"AT+CEREG?", "+CEREG:"},
		{"AT+CREG?", "+CREG:"},
	} {
		lines, err := d.command(ctx, q.cmd, cmdTimeout)
		if err != nil {
			if errors.Is(err, ErrNotOpen) {
				return RegNoResult, err
			}
			continue
		}
		for _, l := range lines {
			if s := parseRegistration(l, q.prefix); s != RegNoResult {
				status = s
				break
			}
		}
		if status.Registered() || status == RegDenied || status == RegSMSOnly {
			return status, nil
		}
	}
	return status, nil
}

func (d *Device) SetAPN(ctx context.Context, apn string) error {
	_, err := d.command(ctx, fmt.Sprintf(`AT+CGDCONT=1,"IP","%s"`, apn), cmdTimeout)
	return err
}

func (d *Device) ActivateNetwork(ctx context.Context) error {
	_, err := d.command(ctx, "AT+CGACT=1,1", netTimeout)
	return err
}

func (d *Device) DataConnected(ctx context.Context) (bool, error) {
	lines, err := d.command(ctx, "AT+CGACT?", cmdTimeout)
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if strings.TrimSpace(strings.TrimPrefix(l, "+CGACT:")) == "1,1" {
			return true, nil
		}
	}
	return false, nil
}

func (d *Device) LocalIP(ctx context.Context) (string, error) {
	lines, err := d.command(ctx, "AT+CGPADDR=1", cmdTimeout)
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		rest, ok := strings.CutPrefix(l, "+CGPADDR:")
		if !ok {
			continue
		}
		parts := strings.SplitN(rest, ",", 2)
		if len(parts) == 2 {
			return strings.Trim(strings.TrimSpace(parts[1]), `"`), nil
		}
	}
	return "", fmt.Errorf("modem: no address in %v", lines)
}

func (d *Device) DisconnectData(ctx context.Context) error {
	_, err := d.command(ctx, "AT+CGACT=0,1", netTimeout)
	return err
}

func (d *Device) PowerOff(ctx context.Context) error {
	_, err := d.command(ctx, "AT+CPOF", cmdTimeout)
	return err
}
