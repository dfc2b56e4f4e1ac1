// Package shared holds the synchronization primitives passed to every task:
// the modem lock, the connectivity status and the bounded queues.
package shared

import (
	"context"
	"fmt"
	"time"

	"sentinel-device/internal/telemetry"
)

type Resources struct {
	ModemLock *Lock
	Status    *Status
	Messages  *Queue[telemetry.Message]
	Payloads  *Queue[telemetry.Payload]
}

// NewResources creates the core primitives. An error here leaves the device
// without a safe way to run and must stop startup.
func NewResources(capacity int) (*Resources, error) {
	messages, err := NewQueue[telemetry.Message]("messages", capacity)
	if err != nil {
		return nil, fmt.Errorf("create message queue: %w", err)
	}
	payloads, err := NewQueue[telemetry.Payload]("payloads", capacity)
	if err != nil {
		return nil, fmt.Errorf("create payload queue: %w", err)
	}
	return &Resources{
		ModemLock: NewLock("modem"),
		Status:    NewStatus(),
		Messages:  messages,
		Payloads:  payloads,
	}, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
