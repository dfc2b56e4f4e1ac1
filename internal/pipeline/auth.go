package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrAuthRejected = errors.New("authentication rejected")
	ErrAuthResponse = errors.New("invalid authentication response")
)

// Session is the cached bearer token.
type Session struct {
	Token  string
	Expiry time.Time
}

// Valid reports whether the token can still be used at now without
// entering the refresh margin.
func (s Session) Valid(now time.Time, margin time.Duration) bool {
	return s.Token != "" && now.Before(s.Expiry.Add(-margin))
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthOptions struct {
	Attempts      int
	RetryDelay    time.Duration
	RefreshMargin time.Duration
	DefaultTTL    time.Duration
	Timeout       time.Duration
}

func DefaultAuthOptions() AuthOptions {
	return AuthOptions{
		Attempts:      3,
		RetryDelay:    time.Second,
		RefreshMargin: 5 * time.Minute,
		DefaultTTL:    time.Hour,
		Timeout:       15 * time.Second,
	}
}

type tokenFields struct {
	Token     string `json:"token"`
	ExpiresIn *int64 `json:"expires_in"`
}

type authResponse struct {
	Data *tokenFields `json:"data"`
	tokenFields
}

// parseAuth accepts {"data":{"token","expires_in"}} or the flat form.
// expires_in is in seconds.
func parseAuth(body []byte, now time.Time, defaultTTL time.Duration) (Session, error) {
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrAuthResponse, err)
	}

	fields := resp.tokenFields
	if resp.Data != nil && resp.Data.Token != "" {
		fields = *resp.Data
	}
	if fields.Token == "" {
		return Session{}, fmt.Errorf("%w: missing token", ErrAuthResponse)
	}

	ttl := defaultTTL
	if fields.ExpiresIn != nil && *fields.ExpiresIn > 0 {
		ttl = time.Duration(*fields.ExpiresIn) * time.Second
	}
	return Session{Token: fields.Token, Expiry: now.Add(ttl)}, nil
}

// Authenticator owns the session and refreshes it lazily.
type Authenticator struct {
	creds    Credentials
	selector *Selector
	opts     AuthOptions
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session Session
}

func NewAuthenticator(creds Credentials, selector *Selector, opts AuthOptions, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		creds:    creds,
		selector: selector,
		opts:     opts,
		logger:   logger.With("component", "auth"),
		now:      time.Now,
	}
}

func (a *Authenticator) Session() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Invalidate drops the cached token so the next Token call re-authenticates.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	a.session = Session{}
	a.mu.Unlock()
}

// Token returns a usable bearer token, authenticating first when the cached
// one is empty or inside the refresh margin.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Valid(a.now(), a.opts.RefreshMargin) {
		return a.session.Token, nil
	}

	session, err := a.authenticate(ctx)
	if err != nil {
		a.session = Session{}
		return "", err
	}
	a.session = session
	a.logger.Info("auth: token acquired", "expires_at", session.Expiry.Format(time.RFC3339))
	return session.Token, nil
}

func (a *Authenticator) authenticate(ctx context.Context) (Session, error) {
	body, err := json.Marshal(a.creds)
	if err != nil {
		return Session{}, fmt.Errorf("marshal credentials: %w", err)
	}

	op := func() (Session, error) {
		t, err := a.selector.Select()
		if err != nil {
			return Session{}, backoff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
		resp, err := t.Post(reqCtx, "/auth", "", body)
		if err != nil {
			return Session{}, err
		}
		if !resp.OK() {
			return Session{}, fmt.Errorf("%w: status %d via %s", ErrAuthRejected, resp.Status, t.Name())
		}
		return parseAuth(resp.Body, a.now(), a.opts.DefaultTTL)
	}

	attempts := max(a.opts.Attempts, 1)
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.opts.RetryDelay), uint64(attempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("auth: attempt failed", "error", err, "retry_in", wait)
	}

	session, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		return Session{}, fmt.Errorf("authenticate: %w", err)
	}
	return session, nil
}
