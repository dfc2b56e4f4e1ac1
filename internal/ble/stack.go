package ble

import "time"

type EventKind int

const (
	EventAdvertisement EventKind = iota
	EventConnected
	EventServicesFound
	EventSubscribed
	EventNotification
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventAdvertisement:
		return "advertisement"
	case EventConnected:
		return "connected"
	case EventServicesFound:
		return "services_found"
	case EventSubscribed:
		return "subscribed"
	case EventNotification:
		return "notification"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is what the radio stack reports back to the link. Client is the id
// the client was created with and is zero for scan results.
type Event struct {
	Kind    EventKind
	Client  uint64
	Address string
	Data    []byte
	Err     error
}

// Poster delivers an event to the link. It never blocks.
type Poster func(Event)

// Stack is the BLE central. Every outcome that happens later is reported
// through the Poster, never by calling back into the link.
//
// StartScan reports advertisements from target, or from any device offering
// the Heart Rate service when target is empty.
type Stack interface {
	Enable() error
	StartScan(target string, post Poster) error
	StopScan() error
	Scanning() bool
	NewClient(id uint64, post Poster) (Client, error)
}

// Client is one native connection handle. Connect, Discover and Subscribe
// return immediately and post their result.
type Client interface {
	Connect(address string, timeout time.Duration)
	Discover()
	Subscribe()
	// Close disconnects if connected and frees the handle.
	Close() error
}
