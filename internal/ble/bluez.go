//go:build linux

package ble

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// BlueZ is the Stack backed by the host's BlueZ daemon.
type BlueZ struct {
	adapter *bluetooth.Adapter
	name    string
	logger  *slog.Logger

	mu       sync.Mutex
	scanning bool
	clients  map[string]*bluezClient
}

func NewBlueZ(adapter string, logger *slog.Logger) *BlueZ {
	if adapter == "" {
		adapter = "hci0"
	}
	return &BlueZ{
		adapter: bluetooth.NewAdapter(adapter),
		name:    adapter,
		logger:  logger,
		clients: make(map[string]*bluezClient),
	}
}

func (b *BlueZ) Enable() error {
	b.logger.Info("ble: enabling adapter", "adapter", b.name)
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", b.name, err)
	}
	b.adapter.SetConnectHandler(b.onConnectChange)
	return nil
}

// onConnectChange runs on the BlueZ signal goroutine.
func (b *BlueZ) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := strings.ToUpper(device.Address.String())
	b.mu.Lock()
	c := b.clients[addr]
	b.mu.Unlock()
	if c != nil {
		c.post(Event{Kind: EventDisconnected, Client: c.id, Address: addr})
	}
}

func (b *BlueZ) StartScan(target string, post Poster) error {
	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return nil
	}
	b.scanning = true
	b.mu.Unlock()

	go func() {
		// adapter.Scan blocks until StopScan() or error.
		err := b.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			addr := strings.ToUpper(r.Address.String())
			if target != "" && !strings.EqualFold(addr, target) {
				return
			}
			if target == "" && !r.HasServiceUUID(bluetooth.ServiceUUIDHeartRate) {
				return
			}
			post(Event{Kind: EventAdvertisement, Address: addr})
		})

		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
		if err != nil {
			b.logger.Warn("ble: scan ended", "adapter", b.name, "error", err)
		}
	}()
	return nil
}

func (b *BlueZ) StopScan() error {
	if !b.Scanning() {
		return nil
	}
	return b.adapter.StopScan()
}

func (b *BlueZ) Scanning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanning
}

func (b *BlueZ) NewClient(id uint64, post Poster) (Client, error) {
	return &bluezClient{id: id, stack: b, post: post}, nil
}

// track registers c for disconnect signals unless it was already closed.
// Lock order is client then stack.
func (b *BlueZ) track(addr string, c *bluezClient) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	b.mu.Lock()
	b.clients[addr] = c
	b.mu.Unlock()
	return true
}

func (b *BlueZ) untrack(addr string, c *bluezClient) {
	b.mu.Lock()
	if b.clients[addr] == c {
		delete(b.clients, addr)
	}
	b.mu.Unlock()
}

type bluezClient struct {
	id    uint64
	stack *BlueZ
	post  Poster

	mu      sync.Mutex
	address string
	device  *bluetooth.Device
	char    *bluetooth.DeviceCharacteristic
	closed  bool
}

func (c *bluezClient) fail(err error) {
	c.post(Event{Kind: EventError, Client: c.id, Address: c.address, Err: err})
}

func (c *bluezClient) Connect(address string, timeout time.Duration) {
	address = strings.ToUpper(address)
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()

	go func() {
		mac, err := bluetooth.ParseMAC(address)
		if err != nil {
			c.fail(fmt.Errorf("parse address %q: %w", address, err))
			return
		}
		if !c.stack.track(address, c) {
			return
		}

		dev, err := c.stack.adapter.Connect(
			bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}},
			bluetooth.ConnectionParams{ConnectionTimeout: bluetooth.NewDuration(timeout)},
		)
		if err != nil {
			c.fail(fmt.Errorf("connect %s: %w", address, err))
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = dev.Disconnect()
			return
		}
		c.device = &dev
		c.mu.Unlock()
		c.post(Event{Kind: EventConnected, Client: c.id, Address: address})
	}()
}

func (c *bluezClient) Discover() {
	go func() {
		c.mu.Lock()
		dev := c.device
		c.mu.Unlock()
		if dev == nil {
			c.fail(fmt.Errorf("discover: not connected"))
			return
		}

		services, err := dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate})
		if err != nil || len(services) == 0 {
			c.fail(fmt.Errorf("heart rate service not found: %v", err))
			return
		}
		chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDHeartRateMeasurement})
		if err != nil || len(chars) == 0 {
			c.fail(fmt.Errorf("heart rate measurement not found: %v", err))
			return
		}

		c.mu.Lock()
		c.char = &chars[0]
		c.mu.Unlock()
		c.post(Event{Kind: EventServicesFound, Client: c.id, Address: c.address})
	}()
}

func (c *bluezClient) Subscribe() {
	go func() {
		c.mu.Lock()
		char := c.char
		c.mu.Unlock()
		if char == nil {
			c.fail(fmt.Errorf("subscribe: characteristic not discovered"))
			return
		}

		err := char.EnableNotifications(func(buf []byte) {
			c.post(Event{Kind: EventNotification, Client: c.id, Data: append([]byte(nil), buf...)})
		})
		if err != nil {
			c.fail(fmt.Errorf("enable notifications: %w", err))
			return
		}
		c.post(Event{Kind: EventSubscribed, Client: c.id, Address: c.address})
	}()
}

func (c *bluezClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dev, char, addr := c.device, c.char, c.address
	c.device, c.char = nil, nil
	c.mu.Unlock()

	c.stack.untrack(addr, c)
	if char != nil {
		_ = char.EnableNotifications(nil)
	}
	if dev != nil {
		return dev.Disconnect()
	}
	return nil
}
