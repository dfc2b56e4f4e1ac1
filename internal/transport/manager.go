// Package transport keeps one network path alive, preferring Wi-Fi and
// falling back to the cellular modem when Wi-Fi keeps failing.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sentinel-device/internal/modem"
	"sentinel-device/internal/shared"
)

// WiFi is the station radio.
type WiFi interface {
	Connected(ctx context.Context) bool
	Scan(ctx context.Context, ssid string) (bool, error)
	Join(ctx context.Context, ssid, password string, timeout time.Duration) error
}

// Modem is the cellular command set used for bring-up and teardown.
type Modem interface {
	Open() error
	Probe(ctx context.Context) bool
	Init(ctx context.Context) (modem.Identity, error)
	SetNetworkModeAuto(ctx context.Context) error
	SIMReady(ctx context.Context) (bool, error)
	Registration(ctx context.Context) (modem.RegStatus, error)
	SetAPN(ctx context.Context, apn string) error
	ActivateNetwork(ctx context.Context) error
	DataConnected(ctx context.Context) (bool, error)
	LocalIP(ctx context.Context) (string, error)
	DisconnectData(ctx context.Context) error
	PowerOff(ctx context.Context) error
}

// Power sequences the modem supply and PWRKEY lines.
type Power interface {
	On(ctx context.Context) error
	PulsePowerKey(ctx context.Context) error
	Cycle(ctx context.Context) error
	Off() error
}

type Credentials struct {
	SSID     string
	Password string
	APN      string
}

type Options struct {
	WiFiJoinTimeout   time.Duration
	MinWiFiFailures   int
	CellularCooldown  time.Duration
	AllowSMSOnly      bool
	ModemLockTimeout  time.Duration
	StatusLockTimeout time.Duration

	ProbeAttempts     int
	PowerCycleEvery   int
	SIMPolls          int
	RegistrationPolls int
	PollInterval      time.Duration
	BootDelay         time.Duration
}

func DefaultOptions() Options {
	return Options{
		WiFiJoinTimeout:   10 * time.Second,
		MinWiFiFailures:   3,
		CellularCooldown:  60 * time.Second,
		ModemLockTimeout:  5 * time.Second,
		StatusLockTimeout: 100 * time.Millisecond,
		ProbeAttempts:     10,
		PowerCycleEvery:   3,
		SIMPolls:          10,
		RegistrationPolls: 60,
		PollInterval:      time.Second,
		BootDelay:         3 * time.Second,
	}
}

// Session is a snapshot of the manager's link state.
type Session struct {
	WiFiConnected       bool
	CellularConnected   bool
	ModemEnabled        bool
	LastCellularAttempt time.Time
	WiFiFailures        int
}

func (s Session) Connected() bool {
	return s.WiFiConnected || s.CellularConnected
}

type Manager struct {
	wifi   WiFi
	modem  Modem
	power  Power
	res    *shared.Resources
	opts   Options
	logger *slog.Logger

	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	cooldown *rate.Limiter
	observer func(Session)

	mu      sync.Mutex
	session Session
}

// NewManager builds a manager. A nil modem disables the cellular path.
func NewManager(wifi WiFi, m Modem, power Power, res *shared.Resources, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		wifi:     wifi,
		modem:    m,
		power:    power,
		res:      res,
		opts:     opts,
		logger:   logger.With("component", "transport"),
		now:      time.Now,
		sleep:    shared.Sleep,
		cooldown: rate.NewLimiter(rate.Every(opts.CellularCooldown), 1),
	}
}

// OnCycle registers fn to receive the session after every Maintain cycle.
func (m *Manager) OnCycle(fn func(Session)) {
	m.observer = fn
}

func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) WiFiConnected() bool     { return m.Session().WiFiConnected }
func (m *Manager) CellularConnected() bool { return m.Session().CellularConnected }
func (m *Manager) IsConnected() bool       { return m.Session().Connected() }

func (m *Manager) update(fn func(s *Session)) {
	m.mu.Lock()
	fn(&m.session)
	m.mu.Unlock()
}

// modemCall runs one modem operation under the shared modem lock.
func (m *Manager) modemCall(ctx context.Context, fn func() error) error {
	return m.res.ModemLock.Do(ctx, m.opts.ModemLockTimeout, fn)
}

// ConnectWiFi joins ssid once and waits for the join timeout.
func (m *Manager) ConnectWiFi(ctx context.Context, ssid, password string) bool {
	if ssid == "" {
		return false
	}
	m.logger.Info("wifi: joining", "ssid", ssid)
	err := m.wifi.Join(ctx, ssid, password, m.opts.WiFiJoinTimeout)
	m.update(func(s *Session) { s.WiFiConnected = err == nil })
	if err != nil {
		m.logger.Warn("wifi: join failed", "ssid", ssid, "error", err)
		return false
	}
	m.logger.Info("wifi: connected", "ssid", ssid)
	return true
}

// EnableModem powers the modem and waits for it to answer AT commands.
func (m *Manager) EnableModem(ctx context.Context) bool {
	if m.modem == nil {
		return false
	}
	if m.Session().ModemEnabled {
		return true
	}

	m.logger.Info("modem: powering up")
	if err := m.power.On(ctx); err != nil {
		m.logger.Error("modem: power on failed", "error", err)
		return false
	}
	if err := m.power.PulsePowerKey(ctx); err != nil {
		m.logger.Error("modem: pwrkey failed", "error", err)
		return false
	}
	if err := m.modem.Open(); err != nil {
		m.logger.Error("modem: uart open failed", "error", err)
		return false
	}
	if err := m.sleep(ctx, m.opts.BootDelay); err != nil {
		return false
	}

	if !m.probe(ctx) {
		m.logger.Error("modem: not responding to AT", "attempts", m.opts.ProbeAttempts)
		return false
	}

	var id modem.Identity
	err := m.modemCall(ctx, func() error {
		var err error
		id, err = m.modem.Init(ctx)
		return err
	})
	if err != nil {
		m.logger.Error("modem: init failed", "error", err)
		return false
	}
	m.logger.Info("modem: ready", "model", id.Model, "firmware", id.Firmware)

	err = m.modemCall(ctx, func() error { return m.modem.SetNetworkModeAuto(ctx) })
	switch {
	case errors.Is(err, modem.ErrUnsupported):
		m.logger.Info("modem: network mode selection not supported, keeping default")
	case err != nil:
		m.logger.Error("modem: set network mode failed", "error", err)
		return false
	}

	m.update(func(s *Session) { s.ModemEnabled = true })
	return true
}

// probe retries the AT handshake, power-cycling after every few misses.
// A busy modem lock is waited out and does not count as a miss.
func (m *Manager) probe(ctx context.Context) bool {
	for attempt := 1; attempt <= m.opts.ProbeAttempts; {
		alive := false
		err := m.modemCall(ctx, func() error {
			alive = m.modem.Probe(ctx)
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			m.logger.Debug("modem: lock busy, probe deferred", "error", err)
			if err := m.sleep(ctx, m.opts.PollInterval); err != nil {
				return false
			}
			continue
		}
		if alive {
			return true
		}
		m.logger.Warn("modem: no AT response", "attempt", attempt)
		if attempt == m.opts.ProbeAttempts {
			break
		}

		wait := m.opts.PollInterval
		if m.opts.PowerCycleEvery > 0 && attempt%m.opts.PowerCycleEvery == 0 {
			m.logger.Warn("modem: power cycling", "attempt", attempt)
			if err := m.modemCall(ctx, func() error { return m.power.Cycle(ctx) }); err != nil {
				m.logger.Error("modem: power cycle failed", "error", err)
			}
			wait = m.opts.BootDelay
		}
		if err := m.sleep(ctx, wait); err != nil {
			return false
		}
		attempt++
	}
	return false
}

// DisableModem ends any data session and powers the modem down.
func (m *Manager) DisableModem(ctx context.Context) bool {
	if m.modem == nil || !m.Session().ModemEnabled {
		return true
	}

	m.logger.Info("modem: shutting down")
	if err := m.modemCall(ctx, func() error { return m.modem.DisconnectData(ctx) }); err != nil {
		m.logger.Warn("modem: data disconnect failed", "error", err)
	}
	offErr := m.modemCall(ctx, func() error { return m.modem.PowerOff(ctx) })
	if offErr != nil {
		m.logger.Warn("modem: power off command failed", "error", offErr)
	}
	if err := m.power.Off(); err != nil {
		m.logger.Warn("modem: supply off failed", "error", err)
	}

	m.update(func(s *Session) {
		s.ModemEnabled = false
		s.CellularConnected = false
	})
	return offErr == nil
}

// ConnectCellular brings up a cellular data session on apn.
func (m *Manager) ConnectCellular(ctx context.Context, apn string) bool {
	if m.modem == nil {
		return false
	}
	if !m.EnableModem(ctx) {
		m.logger.Error("cellular: modem unavailable")
		return false
	}

	fail := func(msg string, args ...any) bool {
		m.logger.Error("cellular: "+msg, args...)
		m.DisableModem(ctx)
		return false
	}

	if !m.waitSIM(ctx) {
		return fail("sim not ready", "polls", m.opts.SIMPolls)
	}

	status, ok := m.waitRegistration(ctx)
	if !ok {
		if status == modem.RegDenied {
			return fail("registration denied")
		}
		return fail("not registered", "last_status", status.String())
	}
	m.logger.Info("cellular: registered", "status", status.String())

	if err := m.modemCall(ctx, func() error { return m.modem.SetAPN(ctx, apn) }); err != nil {
		return fail("set apn failed", "apn", apn, "error", err)
	}
	if err := m.modemCall(ctx, func() error { return m.modem.ActivateNetwork(ctx) }); err != nil {
		m.logger.Warn("cellular: network activation reported an error", "error", err)
	}

	up := false
	if err := m.modemCall(ctx, func() error {
		var err error
		up, err = m.modem.DataConnected(ctx)
		return err
	}); err != nil || !up {
		return fail("no data session", "error", err)
	}

	var ip string
	_ = m.modemCall(ctx, func() error {
		var err error
		ip, err = m.modem.LocalIP(ctx)
		return err
	})
	m.update(func(s *Session) { s.CellularConnected = true })
	m.logger.Info("cellular: connected", "apn", apn, "ip", ip)
	return true
}

func (m *Manager) waitSIM(ctx context.Context) bool {
	for i := 1; i <= m.opts.SIMPolls; i++ {
		ready := false
		err := m.modemCall(ctx, func() error {
			var err error
			ready, err = m.modem.SIMReady(ctx)
			return err
		})
		if err == nil && ready {
			return true
		}
		m.logger.Debug("cellular: waiting for sim", "attempt", i, "error", err)
		if i < m.opts.SIMPolls {
			if m.sleep(ctx, m.opts.PollInterval) != nil {
				return false
			}
		}
	}
	return false
}

func (m *Manager) waitRegistration(ctx context.Context) (modem.RegStatus, bool) {
	status := modem.RegNoResult
	for i := 1; i <= m.opts.RegistrationPolls; i++ {
		err := m.modemCall(ctx, func() error {
			var err error
			status, err = m.modem.Registration(ctx)
			return err
		})
		if err != nil {
			status = modem.RegNoResult
		}

		switch status {
		case modem.RegDenied:
			return status, false
		case modem.RegHome, modem.RegRoaming:
			return status, true
		case modem.RegSMSOnly:
			if m.opts.AllowSMSOnly {
				m.logger.Warn("cellular: registered for sms only, data may be unavailable")
				return status, true
			}
		}
		m.logger.Debug("cellular: waiting for registration", "attempt", i, "status", status.String())
		if i < m.opts.RegistrationPolls {
			if m.sleep(ctx, m.opts.PollInterval) != nil {
				return status, false
			}
		}
	}
	return status, false
}

// cellularActive reports whether a data session is up, re-checking the
// modem when the session claims one.
func (m *Manager) cellularActive(ctx context.Context) bool {
	if m.modem == nil || !m.Session().CellularConnected {
		return false
	}
	up := false
	err := m.modemCall(ctx, func() error {
		var err error
		up, err = m.modem.DataConnected(ctx)
		return err
	})
	if err != nil {
		// Keep the previous belief when the modem cannot be asked.
		return true
	}
	if !up {
		m.logger.Warn("cellular: data session lost")
		m.update(func(s *Session) { s.CellularConnected = false })
	}
	return up
}

// Maintain runs one control cycle and publishes the connectivity bit.
func (m *Manager) Maintain(ctx context.Context, creds Credentials) {
	if m.wifi.Connected(ctx) {
		prev := m.Session()
		if !prev.WiFiConnected {
			m.logger.Info("wifi: link up")
		}
		m.update(func(s *Session) {
			s.WiFiConnected = true
			s.WiFiFailures = 0
		})
		m.teardownCellular(ctx)
		m.publish(ctx)
		return
	}

	if m.Session().WiFiConnected {
		m.logger.Warn("wifi: link lost")
	}
	m.update(func(s *Session) { s.WiFiConnected = false })

	joined := false
	found, err := m.wifi.Scan(ctx, creds.SSID)
	switch {
	case err != nil:
		m.logger.Warn("wifi: scan failed", "ssid", creds.SSID, "error", err)
	case !found:
		m.logger.Info("wifi: target ssid not in range", "ssid", creds.SSID)
	default:
		joined = m.ConnectWiFi(ctx, creds.SSID, creds.Password)
	}

	if joined {
		m.update(func(s *Session) { s.WiFiFailures = 0 })
		m.teardownCellular(ctx)
		m.publish(ctx)
		return
	}

	var failures int
	m.update(func(s *Session) {
		s.WiFiFailures++
		failures = s.WiFiFailures
	})

	switch {
	case failures < m.opts.MinWiFiFailures:
		m.logger.Info("wifi: attempt failed", "failures", failures, "fallback_after", m.opts.MinWiFiFailures)
	case m.modem == nil:
		m.logger.Debug("cellular: not configured")
	case m.cellularActive(ctx):
		m.logger.Debug("cellular: already connected")
	default:
		now := m.now()
		if !m.cooldown.AllowN(now, 1) {
			last := m.Session().LastCellularAttempt
			m.logger.Info("cellular: cooling down",
				"remaining", m.opts.CellularCooldown-now.Sub(last),
			)
			break
		}
		m.update(func(s *Session) { s.LastCellularAttempt = now })
		m.logger.Info("cellular: falling back", "wifi_failures", failures)
		m.ConnectCellular(ctx, creds.APN)
	}

	m.publish(ctx)
}

func (m *Manager) teardownCellular(ctx context.Context) {
	if m.modem == nil || !m.Session().ModemEnabled {
		return
	}
	m.logger.Info("cellular: wifi available, powering modem down")
	m.DisableModem(ctx)
}

func (m *Manager) publish(ctx context.Context) {
	s := m.Session()
	err := m.res.Status.Update(ctx, shared.NetworkConnected, s.Connected(), m.opts.StatusLockTimeout)
	if err != nil {
		m.logger.Warn("status: update skipped", "error", err)
	}
	if m.observer != nil {
		m.observer(s)
	}
}

// Run calls Maintain every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, creds Credentials, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Maintain(ctx, creds)
	for {
		select {
		case <-ctx.Done():
			m.DisableModem(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			m.Maintain(ctx, creds)
		}
	}
}
