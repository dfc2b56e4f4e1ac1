package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	ErrTimeout       = errors.New("modem: response timeout")
	ErrCommandFailed = errors.New("modem: command failed")
	ErrUnsupported   = errors.New("modem: not supported")
)

// CommandError is a +CME/+CMS error reported by the modem.
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("modem: %s: %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }

// Port is the byte stream to the modem UART. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

const readPoll = 100 * time.Millisecond

// Conn runs AT command exchanges over a Port. Callers sharing the modem must
// hold the modem lock around a whole exchange; the internal mutex only keeps
// a single exchange from interleaving on the wire.
type Conn struct {
	port   Port
	logger *slog.Logger

	mu  sync.Mutex
	buf []byte
}

func NewConn(port Port, logger *slog.Logger) (*Conn, error) {
	if err := port.SetReadTimeout(readPoll); err != nil {
		return nil, fmt.Errorf("modem: set read timeout: %w", err)
	}
	return &Conn{port: port, logger: logger}, nil
}

func (c *Conn) Close() error {
	return c.port.Close()
}

// Command sends cmd and collects response lines up to the final result code.
// The returned lines exclude the echo and the final OK.
func (c *Conn) Command(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = c.buf[:0]
	if err := c.port.ResetInputBuffer(); err != nil {
		c.logger.Debug("modem: reset input buffer failed", "error", err)
	}
	if _, err := c.port.Write([]byte(cmd + "\r")); err != nil {
		return nil, fmt.Errorf("modem: write %s: %w", cmd, err)
	}

	deadline := time.Now().Add(timeout)
	var lines []string
	for {
		line, err := c.readLine(ctx, deadline)
		if err != nil {
			return lines, fmt.Errorf("%s: %w", cmd, err)
		}
		switch {
		case line == cmd:
			continue
		case line == "OK":
			c.logger.Debug("modem: at", "cmd", cmd, "lines", lines)
			return lines, nil
		case line == "ERROR":
			return lines, fmt.Errorf("%s: %w", cmd, ErrCommandFailed)
		case strings.HasPrefix(line, "+CME ERROR:"), strings.HasPrefix(line, "+CMS ERROR:"):
			return lines, &CommandError{Command: cmd, Reason: strings.TrimSpace(line[strings.IndexByte(line, ':')+1:])}
		default:
			lines = append(lines, line)
		}
	}
}

// WaitFor reads lines until one starts with prefix and returns it.
func (c *Conn) WaitFor(ctx context.Context, prefix string, timeout time.Duration) (string, error) {
	lines, err := c.ReadUntil(ctx, prefix, timeout)
	if err != nil {
		return "", err
	}
	return lines[len(lines)-1], nil
}

// ReadUntil collects lines up to and including the first one starting with prefix.
func (c *Conn) ReadUntil(ctx context.Context, prefix string, timeout time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	var lines []string
	for {
		line, err := c.readLine(ctx, deadline)
		if err != nil {
			return lines, fmt.Errorf("wait %q: %w", prefix, err)
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, prefix) {
			return lines, nil
		}
	}
}

// Write sends raw bytes, used for payloads after a data prompt.
func (c *Conn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.port.Write(p); err != nil {
		return fmt.Errorf("modem: write payload: %w", err)
	}
	return nil
}

// readLine returns the next non-empty line with CR/LF stripped.
func (c *Conn) readLine(ctx context.Context, deadline time.Time) (string, error) {
	var chunk [256]byte
	for {
		if i := bytes.IndexByte(c.buf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(c.buf[:i]))
			c.buf = c.buf[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", ErrTimeout
		}

		n, err := c.port.Read(chunk[:])
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("modem: read: %w", err)
		}
	}
}

// Send writes cmd without waiting for a result code, for commands answered
// by a prompt or a later URC.
func (c *Conn) Send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = c.buf[:0]
	if err := c.port.ResetInputBuffer(); err != nil {
		c.logger.Debug("modem: reset input buffer failed", "error", err)
	}
	if _, err := c.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("modem: write %s: %w", cmd, err)
	}
	return nil
}
