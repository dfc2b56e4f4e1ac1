// Package ble keeps the bond with the heart-rate strap and turns its
// notifications into sensor messages.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sentinel-device/internal/shared"
	"sentinel-device/internal/telemetry"
)

type State int

const (
	Scanning State = iota
	Connecting
	DiscoveringServices
	Subscribing
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case DiscoveringServices:
		return "discovering_services"
	case Subscribing:
		return "subscribing"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const eventBuffer = 32

type Options struct {
	// Target is the strap MAC. Empty accepts the first device the stack reports.
	Target string

	MaxAttempts      int
	ConnectDelay     time.Duration
	ReconnectDelay   time.Duration
	ConnectTimeout   time.Duration
	DiscoverTimeout  time.Duration
	SubscribeTimeout time.Duration
	DefaultTimeout   time.Duration
	Watchdog         time.Duration
	TickInterval     time.Duration
	SendTimeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:      3,
		ConnectDelay:     3 * time.Second,
		ReconnectDelay:   time.Second,
		ConnectTimeout:   10 * time.Second,
		DiscoverTimeout:  5 * time.Second,
		SubscribeTimeout: 3 * time.Second,
		DefaultTimeout:   8 * time.Second,
		Watchdog:         30 * time.Second,
		TickInterval:     250 * time.Millisecond,
		SendTimeout:      time.Second,
	}
}

// handle owns a native client and frees it exactly once.
type handle struct {
	id     uint64
	client Client
	closed bool
}

func (h *handle) release() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	return h.client.Close()
}

// Link is the strap state machine. All transitions run on the goroutine
// that calls Run; the stack reaches it only through the event channel.
type Link struct {
	stack    Stack
	messages *shared.Queue[telemetry.Message]
	opts     Options
	logger   *slog.Logger
	events   chan Event
	now      func() time.Time

	state         State
	enteredAt     time.Time
	target        string
	pending       bool
	attempts      int
	lastAttempt   time.Time
	lastTelemetry time.Time
	lastBPM       int

	client *handle
	nextID uint64
}

func NewLink(stack Stack, messages *shared.Queue[telemetry.Message], opts Options, logger *slog.Logger) *Link {
	return &Link{
		stack:    stack,
		messages: messages,
		opts:     opts,
		logger:   logger.With("component", "ble"),
		events:   make(chan Event, eventBuffer),
		now:      time.Now,
		state:    Scanning,
		lastBPM:  -1,
	}
}

func (l *Link) State() State   { return l.state }
func (l *Link) Target() string { return l.target }
func (l *Link) Attempts() int  { return l.attempts }

// post is handed to the stack. It only enqueues.
func (l *Link) post(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.logger.Debug("ble: event dropped, link busy", "kind", ev.Kind.String())
	}
}

// Run drives the link until ctx is done. The native client is released on
// every exit.
func (l *Link) Run(ctx context.Context) error {
	if err := l.stack.Enable(); err != nil {
		return fmt.Errorf("ble enable: %w", err)
	}
	defer func() {
		l.release()
		_ = l.stack.StopScan()
	}()

	l.enter(Scanning)
	l.startScan()

	ticker := time.NewTicker(l.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.events:
			l.handle(ctx, ev)
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Link) enter(s State) {
	if l.state != s {
		l.logger.Debug("ble: state", "from", l.state.String(), "to", s.String())
	}
	l.state = s
	l.enteredAt = l.now()
}

func (l *Link) startScan() {
	if l.stack.Scanning() {
		return
	}
	if err := l.stack.StartScan(l.opts.Target, l.post); err != nil {
		l.logger.Warn("ble: scan start failed, retrying on next tick", "error", err)
		return
	}
	l.logger.Info("ble: scanning", "target", l.opts.Target)
}

func (l *Link) release() {
	if l.client == nil {
		return
	}
	if err := l.client.release(); err != nil {
		l.logger.Debug("ble: client close", "error", err)
	}
	l.client = nil
}

func (l *Link) timeout() time.Duration {
	switch l.state {
	case Connecting:
		return l.opts.ConnectTimeout
	case DiscoveringServices:
		return l.opts.DiscoverTimeout
	case Subscribing:
		return l.opts.SubscribeTimeout
	default:
		return l.opts.DefaultTimeout
	}
}

func (l *Link) matches(address string) bool {
	return l.opts.Target == "" || strings.EqualFold(address, l.opts.Target)
}

// tick applies the time-driven transitions.
func (l *Link) tick() {
	now := l.now()

	if l.state == Connected && now.Sub(l.lastTelemetry) > l.opts.Watchdog {
		l.logger.Warn("ble: no heart rate within watchdog, reconnecting",
			"silent_for", now.Sub(l.lastTelemetry).Round(time.Second))
		l.onFailure("watchdog")
		return
	}

	if l.state != Scanning && l.state != Connected && now.Sub(l.enteredAt) > l.timeout() {
		l.onFailure("timeout in " + l.state.String())
		return
	}

	switch l.state {
	case Scanning:
		if l.pending && l.target != "" {
			if now.Sub(l.lastAttempt) >= l.opts.ConnectDelay {
				l.connect()
			}
			return
		}
		l.startScan()
	case Disconnected:
		if l.target != "" && now.Sub(l.lastAttempt) >= l.opts.ReconnectDelay {
			l.enter(Scanning)
			l.startScan()
			l.pending = true
		}
	}
}

func (l *Link) connect() {
	l.lastAttempt = l.now()
	l.attempts++
	l.pending = false
	l.release()
	if l.stack.Scanning() {
		_ = l.stack.StopScan()
	}

	l.nextID++
	id := l.nextID
	l.logger.Info("ble: connecting", "address", l.target, "attempt", l.attempts, "max", l.opts.MaxAttempts)

	l.enter(Connecting)
	client, err := l.stack.NewClient(id, l.post)
	if err != nil {
		l.logger.Error("ble: client allocation failed", "error", err)
		l.onFailure("client allocation")
		return
	}
	l.client = &handle{id: id, client: client}
	client.Connect(l.target, l.opts.ConnectTimeout)
}

// onFailure frees the client and schedules a retry or a fresh scan.
func (l *Link) onFailure(reason string) {
	l.release()
	l.pending = false

	if l.attempts >= l.opts.MaxAttempts {
		l.logger.Warn("ble: max attempts reached, forgetting target",
			"reason", reason, "address", l.target, "attempts", l.attempts)
		l.attempts = 0
		l.target = ""
		l.enter(Scanning)
		l.startScan()
		return
	}

	l.logger.Info("ble: connection failed, will retry", "reason", reason, "attempt", l.attempts)
	l.enter(Disconnected)
	l.lastAttempt = l.now()
}

// current reports whether ev belongs to the live client.
func (l *Link) current(ev Event) bool {
	return l.client != nil && ev.Client == l.client.id
}

func (l *Link) handle(ctx context.Context, ev Event) {
	if ev.Kind == EventAdvertisement {
		l.onAdvertisement(ev)
		return
	}
	if !l.current(ev) {
		l.logger.Debug("ble: stale event ignored", "kind", ev.Kind.String(), "client", ev.Client)
		return
	}

	switch ev.Kind {
	case EventConnected:
		if l.state != Connecting {
			return
		}
		l.enter(DiscoveringServices)
		l.client.client.Discover()
	case EventServicesFound:
		if l.state != DiscoveringServices {
			return
		}
		l.enter(Subscribing)
		l.client.client.Subscribe()
	case EventSubscribed:
		if l.state != Subscribing {
			return
		}
		l.attempts = 0
		l.lastTelemetry = l.now()
		l.enter(Connected)
		l.logger.Info("ble: subscribed to heart rate", "address", l.target)
	case EventNotification:
		if l.state == Connected {
			l.onNotification(ctx, ev.Data)
		}
	case EventDisconnected:
		l.onDisconnect()
	case EventError:
		l.logger.Warn("ble: stack error", "state", l.state.String(), "error", ev.Err)
		if l.state != Connected {
			l.onFailure(l.state.String() + " failed")
		}
	}
}

func (l *Link) onAdvertisement(ev Event) {
	if l.state != Scanning || l.pending || !l.matches(ev.Address) {
		return
	}
	l.logger.Info("ble: target found", "address", ev.Address)
	l.target = strings.ToUpper(ev.Address)
	l.pending = true
	l.lastAttempt = l.now()
	if err := l.stack.StopScan(); err != nil {
		l.logger.Debug("ble: stop scan", "error", err)
	}
}

func (l *Link) onDisconnect() {
	switch l.state {
	case Connected:
		l.logger.Warn("ble: strap disconnected", "address", l.target)
		l.release()
		l.attempts = 0
		l.enter(Disconnected)
		l.lastAttempt = l.now()
	case Connecting, DiscoveringServices, Subscribing:
		l.onFailure("disconnected while " + l.state.String())
	}
}

func (l *Link) onNotification(ctx context.Context, data []byte) {
	bpm, err := DecodeHeartRate(data)
	if err != nil {
		if errors.Is(err, ErrImplausible) {
			l.logger.Debug("ble: discarding implausible reading", "bpm", bpm, "data", fmt.Sprintf("% X", data))
		} else {
			l.logger.Debug("ble: malformed notification", "error", err)
		}
		return
	}

	l.lastTelemetry = l.now()
	if bpm == l.lastBPM {
		return
	}

	if err := l.messages.Send(ctx, telemetry.HeartRateMessage(bpm), l.opts.SendTimeout); err != nil {
		l.logger.Warn("ble: heart rate dropped", "bpm", bpm, "error", err)
		return
	}
	l.lastBPM = bpm
	l.logger.Debug("ble: heart rate", "bpm", bpm)
}
