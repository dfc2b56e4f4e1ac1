package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"sentinel-device/internal/modem"
	"sentinel-device/internal/shared"
)

var ErrNoTransport = errors.New("no transport available")

// ErrNetworkDown is returned while the shared status has no network.
var ErrNetworkDown = fmt.Errorf("%w: network not connected", ErrNoTransport)

// Response is the status and body of a backend reply.
type Response struct {
	Status int
	Body   []byte
}

func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Transport posts JSON to a backend path. An error means the request did
// not complete. HTTP status codes are not errors.
type Transport interface {
	Name() string
	Post(ctx context.Context, path, token string, body []byte) (Response, error)
}

// HTTPTransport posts over the host network stack (the Wi-Fi path).
type HTTPTransport struct {
	client *resty.Client
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Name() string { return "wifi" }

func (t *HTTPTransport) Post(ctx context.Context, path, token string, body []byte) (Response, error) {
	req := t.client.R().SetContext(ctx).SetBody(body)
	if token != "" {
		req.SetAuthToken(token)
	}
	resp, err := req.Post(path)
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", path, err)
	}
	return Response{Status: resp.StatusCode(), Body: resp.Body()}, nil
}

// ModemHTTP is the modem's HTTP client.
type ModemHTTP interface {
	HTTPPost(ctx context.Context, url, token string, body []byte, timeout time.Duration) (modem.HTTPResponse, error)
}

// CellularTransport posts through the modem's HTTP stack. The modem lock is
// held for the whole exchange.
type CellularTransport struct {
	modem       ModemHTTP
	lock        *shared.Lock
	baseURL     string
	lockTimeout time.Duration
	timeout     time.Duration
}

func NewCellularTransport(m ModemHTTP, lock *shared.Lock, baseURL string, lockTimeout, timeout time.Duration) *CellularTransport {
	return &CellularTransport{
		modem:       m,
		lock:        lock,
		baseURL:     baseURL,
		lockTimeout: lockTimeout,
		timeout:     timeout,
	}
}

func (t *CellularTransport) Name() string { return "cellular" }

func (t *CellularTransport) Post(ctx context.Context, path, token string, body []byte) (Response, error) {
	var resp modem.HTTPResponse
	err := t.lock.Do(ctx, t.lockTimeout, func() error {
		var err error
		resp, err = t.modem.HTTPPost(ctx, t.baseURL+path, token, body, t.timeout)
		return err
	})
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", path, err)
	}
	return Response{Status: resp.Status, Body: resp.Body}, nil
}

// Default circuit breaker settings.
const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
)

// BreakerTransport fails fast once a transport keeps erroring, so a dead
// path is not retried on every cycle.
type BreakerTransport struct {
	inner   Transport
	breaker *gobreaker.CircuitBreaker[Response]
}

func NewBreakerTransport(inner Transport, logger *slog.Logger) *BreakerTransport {
	cb := gobreaker.NewCircuitBreaker[Response](gobreaker.Settings{
		Name:        "transport:" + inner.Name(),
		MaxRequests: 1,
		Timeout:     defaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultBreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerTransport{inner: inner, breaker: cb}
}

func (t *BreakerTransport) Name() string { return t.inner.Name() }

func (t *BreakerTransport) Post(ctx context.Context, path, token string, body []byte) (Response, error) {
	return t.breaker.Execute(func() (Response, error) {
		return t.inner.Post(ctx, path, token, body)
	})
}

func (t *BreakerTransport) State() gobreaker.State { return t.breaker.State() }

// Links reports which network paths are up.
type Links interface {
	WiFiConnected() bool
	CellularConnected() bool
}

// Selector picks the transport for a send, preferring Wi-Fi. Nothing is
// selected while the shared NetworkConnected bit is clear.
type Selector struct {
	status   *shared.Status
	links    Links
	wifi     Transport
	cellular Transport
}

// NewSelector builds a selector. A nil transport is never selected.
func NewSelector(status *shared.Status, links Links, wifi, cellular Transport) *Selector {
	return &Selector{status: status, links: links, wifi: wifi, cellular: cellular}
}

func (s *Selector) Select() (Transport, error) {
	if !s.status.Has(shared.NetworkConnected) {
		return nil, ErrNetworkDown
	}
	switch {
	case s.wifi != nil && s.links.WiFiConnected():
		return s.wifi, nil
	case s.cellular != nil && s.links.CellularConnected():
		return s.cellular, nil
	default:
		return nil, ErrNoTransport
	}
}
