package shared

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// Bits is the connectivity status bitmask.
type Bits uint32

const (
	NetworkConnected Bits = 1 << iota
	SystemReady
)

func (b Bits) String() string {
	var parts []string
	if b&NetworkConnected != 0 {
		parts = append(parts, "network_connected")
	}
	if b&SystemReady != 0 {
		parts = append(parts, "system_ready")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Status is the process-wide connectivity bitmask. Writers serialize
// read-modify-write through the lock; readers load atomically.
type Status struct {
	lock *Lock
	bits atomic.Uint32
}

func NewStatus() *Status {
	return &Status{lock: NewLock("status")}
}

// Update sets (on) or clears (!on) bits under the status lock.
func (s *Status) Update(ctx context.Context, bits Bits, on bool, timeout time.Duration) error {
	return s.lock.Do(ctx, timeout, func() error {
		cur := Bits(s.bits.Load())
		if on {
			cur |= bits
		} else {
			cur &^= bits
		}
		s.bits.Store(uint32(cur))
		return nil
	})
}

func (s *Status) Set(ctx context.Context, bits Bits, timeout time.Duration) error {
	return s.Update(ctx, bits, true, timeout)
}

func (s *Status) Clear(ctx context.Context, bits Bits, timeout time.Duration) error {
	return s.Update(ctx, bits, false, timeout)
}

func (s *Status) Bits() Bits {
	return Bits(s.bits.Load())
}

func (s *Status) Has(bits Bits) bool {
	return s.Bits()&bits == bits
}
