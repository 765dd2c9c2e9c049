// Package roomapi is a small HTTP client for the board server's read
// endpoints, used by health checks and tooling.
package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/boardroom/pkg/wire"
)

var (
	ErrNotFound  = errors.New("room not found")
	ErrUnhealthy = errors.New("server unhealthy")
)

// StatusError is a non-2xx answer.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("board api error: status=%d body=%s", e.Status, e.Body)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// NewClient accepts http(s) and ws(s) base URLs.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	}
	c := &Client{
		baseURL:        base,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State fetches the current snapshot of room/board.
func (c *Client) State(ctx context.Context, room, board string) (*wire.GameState, error) {
	var st wire.GameState
	body, err := c.do(ctx, roomPath(room, board, "state"))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

// BoardPNG fetches the rendered thumbnail.
func (c *Client) BoardPNG(ctx context.Context, room, board string, flip bool) ([]byte, error) {
	path := roomPath(room, board, "board.png")
	if flip {
		path += "?flip=1"
	}
	return c.do(ctx, path)
}

// Health returns per-check status. A failing check yields ErrUnhealthy along
// with the decoded statuses.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	body, err := c.do(ctx, "/healthz")
	var se *StatusError
	unhealthy := errors.As(err, &se) && se.Status == fasthttp.StatusServiceUnavailable
	if err != nil && !unhealthy {
		return nil, err
	}
	if unhealthy {
		body = []byte(se.Body)
	}
	var raw map[string]struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v.Status
	}
	if unhealthy {
		return out, ErrUnhealthy
	}
	return out, nil
}

func roomPath(room, board, leaf string) string {
	return "/api/rooms/" + url.PathEscape(room) + "/" + url.PathEscape(board) + "/" + leaf
}

// do runs a GET with retry on transport errors and 5xx.
func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			status := resp.StatusCode()
			switch {
			case status >= 200 && status < 300:
				return append([]byte(nil), resp.Body()...), nil
			case status == fasthttp.StatusNotFound:
				return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			lastErr = &StatusError{Status: status, Body: truncate(string(resp.Body()), 512)}
			if !shouldRetryStatus(status) {
				return nil, lastErr
			}
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
