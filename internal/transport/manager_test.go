package transport

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-device/internal/modem"
	"sentinel-device/internal/shared"
)

type fakeWiFi struct {
	connected bool
	found     bool
	scanErr   error
	joinErr   error
	joins     int
}

func (f *fakeWiFi) Connected(context.Context) bool { return f.connected }

func (f *fakeWiFi) Scan(context.Context, string) (bool, error) { return f.found, f.scanErr }

func (f *fakeWiFi) Join(context.Context, string, string, time.Duration) error {
	f.joins++
	if f.joinErr == nil {
		f.connected = true
	}
	return f.joinErr
}

type fakeModem struct {
	probes    []bool
	sim       bool
	reg       []modem.RegStatus
	modeErr   error
	data      bool
	apnErr    error
	calls     []string
	probeN    int
	regN      int
	poweredOn bool
}

func (f *fakeModem) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeModem) Open() error { f.record("open"); return nil }

func (f *fakeModem) Probe(context.Context) bool {
	f.record("probe")
	ok := false
	if f.probeN < len(f.probes) {
		ok = f.probes[f.probeN]
	} else if len(f.probes) > 0 {
		ok = f.probes[len(f.probes)-1]
	}
	f.probeN++
	return ok
}

func (f *fakeModem) Init(context.Context) (modem.Identity, error) {
	f.record("init")
	return modem.Identity{Model: "A7670E", Firmware: "A011B07"}, nil
}

func (f *fakeModem) SetNetworkModeAuto(context.Context) error {
	f.record("mode")
	return f.modeErr
}

func (f *fakeModem) SIMReady(context.Context) (bool, error) {
	f.record("sim")
	return f.sim, nil
}

func (f *fakeModem) Registration(context.Context) (modem.RegStatus, error) {
	f.record("reg")
	status := modem.RegNoResult
	if f.regN < len(f.reg) {
		status = f.reg[f.regN]
	} else if len(f.reg) > 0 {
		status = f.reg[len(f.reg)-1]
	}
	f.regN++
	return status, nil
}

func (f *fakeModem) SetAPN(context.Context, string) error {
	f.record("apn")
	return f.apnErr
}

func (f *fakeModem) ActivateNetwork(context.Context) error {
	f.record("activate")
	return nil
}

func (f *fakeModem) DataConnected(context.Context) (bool, error) {
	f.record("data")
	return f.data, nil
}

func (f *fakeModem) LocalIP(context.Context) (string, error) { return "10.64.0.2", nil }

func (f *fakeModem) DisconnectData(context.Context) error {
	f.record("disconnect")
	f.data = false
	return nil
}

func (f *fakeModem) PowerOff(context.Context) error {
	f.record("poweroff")
	return nil
}

func (f *fakeModem) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

type fakePower struct {
	on, pulses, cycles, off int
}

func (p *fakePower) On(context.Context) error            { p.on++; return nil }
func (p *fakePower) PulsePowerKey(context.Context) error { p.pulses++; return nil }
func (p *fakePower) Cycle(context.Context) error         { p.cycles++; return nil }
func (p *fakePower) Off() error                          { p.off++; return nil }

type harness struct {
	m     *Manager
	wifi  *fakeWiFi
	modem *fakeModem
	power *fakePower
	res   *shared.Resources
	now   time.Time
	slept time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	res, err := shared.NewResources(4)
	require.NoError(t, err)

	h := &harness{
		wifi:  &fakeWiFi{},
		modem: &fakeModem{probes: []bool{true}, sim: true, reg: []modem.RegStatus{modem.RegHome}, data: true},
		power: &fakePower{},
		res:   res,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.DiscardHandler)
	h.m = NewManager(h.wifi, h.modem, h.power, res, DefaultOptions(), logger)
	h.m.now = func() time.Time { return h.now }
	h.m.sleep = func(_ context.Context, d time.Duration) error {
		h.slept += d
		return nil
	}
	return h
}

var creds = Credentials{SSID: "field-ap", Password: "secret", APN: "internet"}

func TestMaintainWiFiConnected(t *testing.T) {
	h := newHarness(t)
	h.wifi.connected = true

	h.m.Maintain(context.Background(), creds)

	assert.True(t, h.m.WiFiConnected())
	assert.True(t, h.res.Status.Has(shared.NetworkConnected))
	assert.Empty(t, h.modem.calls)
}

func TestMaintainJoinsWhenSSIDFound(t *testing.T) {
	h := newHarness(t)
	h.wifi.found = true

	h.m.Maintain(context.Background(), creds)

	assert.Equal(t, 1, h.wifi.joins)
	assert.True(t, h.m.IsConnected())
	assert.Equal(t, 0, h.m.Session().WiFiFailures)
}

func TestMaintainFallsBackAfterFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.Maintain(ctx, creds)
	h.m.Maintain(ctx, creds)
	assert.Empty(t, h.modem.calls, "no cellular before the failure threshold")
	assert.False(t, h.res.Status.Has(shared.NetworkConnected))

	h.m.Maintain(ctx, creds)

	s := h.m.Session()
	assert.Equal(t, 3, s.WiFiFailures)
	assert.True(t, s.CellularConnected)
	assert.True(t, s.ModemEnabled)
	assert.Equal(t, h.now, s.LastCellularAttempt)
	assert.True(t, h.res.Status.Has(shared.NetworkConnected))
	assert.Equal(t, 1, h.power.on)
}

func TestMaintainCellularCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.modem.sim = false

	for range 3 {
		h.m.Maintain(ctx, creds)
	}
	assert.Equal(t, 1, h.power.on, "first fallback attempt")
	assert.False(t, h.m.CellularConnected())

	h.now = h.now.Add(30 * time.Second)
	h.m.Maintain(ctx, creds)
	assert.Equal(t, 1, h.power.on, "suppressed within cooldown")

	h.now = h.now.Add(31 * time.Second)
	h.m.Maintain(ctx, creds)
	assert.Equal(t, 2, h.power.on, "retried after cooldown")
}

func TestMaintainWiFiRestoredTearsDownCellular(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for range 3 {
		h.m.Maintain(ctx, creds)
	}
	require.True(t, h.m.CellularConnected())

	h.wifi.connected = true
	h.m.Maintain(ctx, creds)

	s := h.m.Session()
	assert.True(t, s.WiFiConnected)
	assert.False(t, s.CellularConnected)
	assert.False(t, s.ModemEnabled)
	assert.Equal(t, 1, h.modem.count("poweroff"))
	assert.Equal(t, 1, h.power.off)
}

func TestMaintainDetectsLostCellular(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for range 3 {
		h.m.Maintain(ctx, creds)
	}
	require.True(t, h.m.CellularConnected())

	h.modem.data = false
	h.now = h.now.Add(61 * time.Second)
	h.m.Maintain(ctx, creds)

	// The lost session is noticed and a fresh attempt runs, which fails
	// here because the data context never comes back.
	assert.Equal(t, 2, h.modem.count("apn"))
	assert.False(t, h.m.CellularConnected())
	assert.False(t, h.m.Session().ModemEnabled)
}

func TestEnableModemPowerCycles(t *testing.T) {
	h := newHarness(t)
	h.modem.probes = []bool{false, false, false, false, true}

	ok := h.m.EnableModem(context.Background())

	require.True(t, ok)
	assert.Equal(t, 5, h.modem.count("probe"))
	assert.Equal(t, 1, h.power.cycles)
	assert.True(t, h.m.Session().ModemEnabled)
}

func TestEnableModemWaitsOutBusyLock(t *testing.T) {
	h := newHarness(t)
	h.m.opts.ModemLockTimeout = time.Millisecond
	require.NoError(t, h.res.ModemLock.Acquire(context.Background(), 0))

	busy := 0
	h.m.sleep = func(_ context.Context, d time.Duration) error {
		if h.power.on > 0 && h.modem.count("probe") == 0 {
			busy++
			if busy == 4 {
				h.res.ModemLock.Release()
			}
		}
		return nil
	}

	ok := h.m.EnableModem(context.Background())

	require.True(t, ok)
	assert.Equal(t, 1, h.modem.count("probe"))
	assert.Zero(t, h.power.cycles, "lock timeouts are not failed probes")
}

func TestEnableModemGivesUp(t *testing.T) {
	h := newHarness(t)
	h.modem.probes = []bool{false}

	ok := h.m.EnableModem(context.Background())

	assert.False(t, ok)
	assert.Equal(t, 10, h.modem.count("probe"))
	assert.Equal(t, 3, h.power.cycles)
	assert.False(t, h.m.Session().ModemEnabled)
}

func TestEnableModemUnsupportedMode(t *testing.T) {
	h := newHarness(t)
	h.modem.modeErr = modem.ErrUnsupported

	assert.True(t, h.m.EnableModem(context.Background()))
}

func TestEnableModemIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.m.EnableModem(ctx))
	require.True(t, h.m.EnableModem(ctx))
	assert.Equal(t, 1, h.power.on)
}

func TestConnectCellularRegistration(t *testing.T) {
	cases := []struct {
		name    string
		reg     []modem.RegStatus
		smsOnly bool
		want    bool
	}{
		{"home", []modem.RegStatus{modem.RegHome}, false, true},
		{"roaming after search", []modem.RegStatus{modem.RegSearching, modem.RegSearching, modem.RegRoaming}, false, true},
		{"denied", []modem.RegStatus{modem.RegSearching, modem.RegDenied}, false, false},
		{"sms only rejected", []modem.RegStatus{modem.RegSMSOnly}, false, false},
		{"sms only allowed", []modem.RegStatus{modem.RegSMSOnly}, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.modem.reg = tc.reg
			h.m.opts.AllowSMSOnly = tc.smsOnly

			got := h.m.ConnectCellular(context.Background(), "internet")

			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want, h.m.CellularConnected())
			if !tc.want {
				assert.False(t, h.m.Session().ModemEnabled, "failure disables modem")
				assert.Equal(t, 1, h.modem.count("poweroff"))
			}
		})
	}
}

func TestConnectCellularDeniedStopsPolling(t *testing.T) {
	h := newHarness(t)
	h.modem.reg = []modem.RegStatus{modem.RegDenied}

	assert.False(t, h.m.ConnectCellular(context.Background(), "internet"))
	assert.Equal(t, 1, h.modem.count("reg"))
}

func TestConnectCellularSIMTimeout(t *testing.T) {
	h := newHarness(t)
	h.modem.sim = false

	assert.False(t, h.m.ConnectCellular(context.Background(), "internet"))
	assert.Equal(t, 10, h.modem.count("sim"))
	assert.Zero(t, h.modem.count("reg"))
}

func TestConnectCellularAPNFailure(t *testing.T) {
	h := newHarness(t)
	h.modem.apnErr = errors.New("cme: operation not allowed")

	assert.False(t, h.m.ConnectCellular(context.Background(), "internet"))
	assert.False(t, h.m.CellularConnected())
}

func TestDisableModemIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.True(t, h.m.DisableModem(ctx))
	assert.Empty(t, h.modem.calls)

	require.True(t, h.m.EnableModem(ctx))
	assert.True(t, h.m.DisableModem(ctx))
	assert.True(t, h.m.DisableModem(ctx))
	assert.Equal(t, 1, h.modem.count("poweroff"))
}

func TestModemCallsRespectLock(t *testing.T) {
	h := newHarness(t)
	h.m.opts.ModemLockTimeout = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, h.res.ModemLock.Acquire(ctx, time.Second))
	defer h.res.ModemLock.Release()

	assert.False(t, h.m.EnableModem(ctx))
	assert.Zero(t, h.modem.count("probe"), "probe never runs without the lock")
}

func TestStatusPublishKeepsOtherBits(t *testing.T) {
	h := newHarness(t)
	h.wifi.connected = true
	ctx := context.Background()

	var seen []Session
	h.m.OnCycle(func(s Session) { seen = append(seen, s) })

	require.NoError(t, h.res.Status.Set(ctx, shared.SystemReady, time.Second))
	h.m.Maintain(ctx, creds)

	assert.True(t, h.res.Status.Has(shared.NetworkConnected|shared.SystemReady))
	require.Len(t, seen, 1)
	assert.True(t, seen[0].WiFiConnected)
}

func TestNoModemConfigured(t *testing.T) {
	res, err := shared.NewResources(2)
	require.NoError(t, err)
	m := NewManager(&fakeWiFi{}, nil, nil, res, DefaultOptions(), slog.New(slog.DiscardHandler))
	m.sleep = func(context.Context, time.Duration) error { return nil }

	for range 5 {
		m.Maintain(context.Background(), creds)
	}
	assert.False(t, m.IsConnected())
	assert.False(t, m.ConnectCellular(context.Background(), "internet"))
	assert.True(t, m.DisableModem(context.Background()))
}
