package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sentinel-device/internal/shared"
	"sentinel-device/internal/telemetry"
)

var (
	ErrUnauthorized = errors.New("backend rejected token")
	ErrRejected     = errors.New("backend rejected payload")
)

// Deliverer pops rendered payloads and posts them to the backend.
type Deliverer struct {
	payloads       *shared.Queue[telemetry.Payload]
	auth           *Authenticator
	selector       *Selector
	logger         *slog.Logger
	receiveTimeout time.Duration
}

func NewDeliverer(payloads *shared.Queue[telemetry.Payload], auth *Authenticator, selector *Selector, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		payloads:       payloads,
		auth:           auth,
		selector:       selector,
		logger:         logger.With("component", "delivery"),
		receiveTimeout: time.Second,
	}
}

// Deliver sends one payload. Without any transport the payload is dropped
// before authentication is attempted.
func (d *Deliverer) Deliver(ctx context.Context, payload telemetry.Payload) error {
	t, err := d.selector.Select()
	if err != nil {
		return err
	}

	token, err := d.auth.Token(ctx)
	if err != nil {
		return err
	}

	// Connectivity may change while authenticating.
	if t, err = d.selector.Select(); err != nil {
		return err
	}

	resp, err := t.Post(ctx, "/data", token, payload)
	if err != nil {
		return fmt.Errorf("deliver via %s: %w", t.Name(), err)
	}

	switch {
	case resp.OK():
		d.logger.Debug("delivery: sent", "transport", t.Name(), "status", resp.Status, "bytes", len(payload))
		return nil
	case resp.Status == http.StatusUnauthorized:
		d.auth.Invalidate()
		return fmt.Errorf("%w: via %s", ErrUnauthorized, t.Name())
	default:
		return fmt.Errorf("%w: status %d via %s", ErrRejected, resp.Status, t.Name())
	}
}

func (d *Deliverer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, ok := d.payloads.Receive(ctx, d.receiveTimeout)
		if !ok {
			continue
		}

		err := d.Deliver(ctx, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoTransport):
			d.logger.Info("delivery: no network, payload dropped")
		case errors.Is(err, ErrUnauthorized):
			d.logger.Warn("delivery: token invalidated", "error", err)
		default:
			d.logger.Warn("delivery: failed", "error", err)
		}
	}
}
