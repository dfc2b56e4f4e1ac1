package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HTTPResponse is the outcome of an HTTP exchange run on the modem's stack.
type HTTPResponse struct {
	Status int
	Body   []byte
}

// HTTPPost sends body to url through the modem's embedded HTTP client. token,
// when set, is sent as a Bearer Authorization header. The caller must hold
// the modem lock for the whole call.
func (d *Device) HTTPPost(ctx context.Context, url, token string, body []byte, timeout time.Duration) (HTTPResponse, error) {
	c, err := d.current()
	if err != nil {
		return HTTPResponse{}, err
	}

	// A previous exchange may have left the HTTP service initialised.
	_, _ = c.Command(ctx, "AT+HTTPTERM", shortTimeout)
	if _, err := c.Command(ctx, "AT+HTTPINIT", cmdTimeout); err != nil {
		return HTTPResponse{}, fmt.Errorf("http init: %w", err)
	}
	defer func() {
		if _, err := c.Command(context.WithoutCancel(ctx), "AT+HTTPTERM", cmdTimeout); err != nil {
			d.logger.Debug("modem: http term failed", "error", err)
		}
	}()

	params := []string{
		fmt.Sprintf(`AT+HTTPPARA="URL","%s"`, url),
		`AT+HTTPPARA="CONTENT","application/json"`,
	}
	if token != "" {
		params = append(params, fmt.Sprintf(`AT+HTTPPARA="USERDATA","Authorization: Bearer %s"`, token))
	}
	for _, p := range params {
		if _, err := c.Command(ctx, p, cmdTimeout); err != nil {
			return HTTPResponse{}, fmt.Errorf("http params: %w", err)
		}
	}

	if len(body) > 0 {
		if err := c.Send(fmt.Sprintf("AT+HTTPDATA=%d,%d", len(body), timeout.Milliseconds())); err != nil {
			return HTTPResponse{}, err
		}
		if _, err := c.WaitFor(ctx, "DOWNLOAD", cmdTimeout); err != nil {
			return HTTPResponse{}, fmt.Errorf("http data prompt: %w", err)
		}
		if err := c.Write(body); err != nil {
			return HTTPResponse{}, err
		}
		if _, err := c.WaitFor(ctx, "OK", timeout); err != nil {
			return HTTPResponse{}, fmt.Errorf("http data upload: %w", err)
		}
	}

	if _, err := c.Command(ctx, "AT+HTTPACTION=1", cmdTimeout); err != nil {
		return HTTPResponse{}, fmt.Errorf("http action: %w", err)
	}
	urc, err := c.WaitFor(ctx, "+HTTPACTION:", timeout)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("http action result: %w", err)
	}
	status, length, err := parseHTTPAction(urc)
	if err != nil {
		return HTTPResponse{}, err
	}

	resp := HTTPResponse{Status: status}
	if length == 0 {
		return resp, nil
	}

	lines, err := c.Command(ctx, fmt.Sprintf("AT+HTTPREAD=0,%d", length), cmdTimeout)
	if err != nil {
		return resp, fmt.Errorf("http read: %w", err)
	}
	if !httpReadComplete(lines) {
		more, err := c.ReadUntil(ctx, "+HTTPREAD: 0", cmdTimeout)
		if err != nil {
			return resp, fmt.Errorf("http read body: %w", err)
		}
		lines = append(lines, more...)
	}
	resp.Body = extractHTTPRead(lines)
	return resp, nil
}

// parseHTTPAction reads "+HTTPACTION: <method>,<status>,<length>".
func parseHTTPAction(line string) (status, length int, err error) {
	parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "+HTTPACTION:")), ",")
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("modem: malformed %q", line)
	}
	status, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("modem: status in %q: %w", line, err)
	}
	length, err = strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return 0, 0, fmt.Errorf("modem: length in %q: %w", line, err)
	}
	return status, length, nil
}

func httpReadComplete(lines []string) bool {
	for _, l := range lines {
		if l == "+HTTPREAD: 0" {
			return true
		}
	}
	return false
}

func extractHTTPRead(lines []string) []byte {
	var (
		data   []string
		inside bool
	)
	for _, l := range lines {
		if rest, ok := strings.CutPrefix(l, "+HTTPREAD:"); ok {
			if strings.TrimSpace(rest) == "0" {
				break
			}
			inside = true
			continue
		}
		if inside && l != "OK" {
			data = append(data, l)
		}
	}
	return []byte(strings.Join(data, "\n"))
}
