// Package pipeline merges sensor messages into the latest snapshot, renders
// it and delivers it to the backend over whichever transport is up.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"sentinel-device/internal/shared"
	"sentinel-device/internal/telemetry"
)

// Mirror receives every rendered payload in addition to the backend.
type Mirror interface {
	PublishTelemetry(deviceID string, payload []byte) error
}

// mirrorBacklog bounds payloads waiting for a slow mirror. Newer payloads
// are dropped once it is full.
const mirrorBacklog = 4

type Processor struct {
	res      *shared.Resources
	deviceID string
	limit    int
	mirror   Mirror
	mirrored chan telemetry.Payload
	logger   *slog.Logger

	receiveTimeout time.Duration
	sendTimeout    time.Duration

	snapshot telemetry.Snapshot
}

func NewProcessor(res *shared.Resources, deviceID string, limit int, logger *slog.Logger) *Processor {
	return &Processor{
		res:            res,
		deviceID:       deviceID,
		limit:          limit,
		logger:         logger.With("component", "processing"),
		receiveTimeout: time.Second,
		sendTimeout:    100 * time.Millisecond,
	}
}

// SetMirror attaches m. Publishing happens on its own goroutine started
// by Run, so a stalled broker never slows merging.
func (p *Processor) SetMirror(m Mirror) {
	p.mirror = m
	p.mirrored = make(chan telemetry.Payload, mirrorBacklog)
}

func (p *Processor) Snapshot() telemetry.Snapshot { return p.snapshot }

// Process merges msg and queues the rendered snapshot. It reports whether
// a payload was queued.
func (p *Processor) Process(ctx context.Context, msg telemetry.Message) bool {
	if !msg.Valid.Any() {
		return false
	}
	p.snapshot.Merge(msg)

	payload, err := telemetry.Render(p.deviceID, p.snapshot, p.limit)
	if err != nil {
		p.logger.Error("processing: render failed, cycle skipped", "error", err)
		return false
	}

	if p.mirror != nil {
		select {
		case p.mirrored <- payload:
		default:
			p.logger.Debug("processing: mirror backlog full, payload not mirrored")
		}
	}

	if err := p.res.Payloads.Send(ctx, payload, p.sendTimeout); err != nil {
		p.logger.Warn("processing: payload dropped", "error", err)
		return false
	}
	return true
}

func (p *Processor) Run(ctx context.Context) error {
	if p.mirror != nil {
		go p.mirrorLoop(ctx)
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := p.res.Messages.Receive(ctx, p.receiveTimeout)
		if !ok {
			continue
		}
		p.Process(ctx, msg)
	}
}

func (p *Processor) mirrorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-p.mirrored:
			if err := p.mirror.PublishTelemetry(p.deviceID, payload); err != nil {
				p.logger.Debug("processing: mirror publish failed", "error", err)
			}
		}
	}
}
