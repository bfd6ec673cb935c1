// Package httpfetch is the production ports.HTTP implementation: a
// net/http client configured for conditional requests, bounded redirect
// following, and the timeout and body-size ceilings spec.md §4.2
// mandates. The teacher delegates all fetching to gofeed's internal HTTP
// client; gofeed doesn't expose HEAD or header inspection, so this
// package talks net/http directly, generalizing the teacher's
// context-based timeout wiring in internal/rss/fetcher.go's
// ParseURLWithContext call.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bryan-buckman/feedscheduler/internal/ports"
)

// MaxRedirects bounds redirect following within a single action (spec.md
// §4.2: "Follow up to 5 redirects within the same action").
const MaxRedirects = 5

// MaxBodyBytes is the hard cap on a GET response body; exceeding it is a
// Fatal (oversize) outcome at the action layer.
const MaxBodyBytes = 16 << 20 // 16 MiB

// ErrBodyTooLarge is returned when a response body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("httpfetch: response body exceeds size cap")

// Client implements ports.HTTP.
type Client struct {
	userAgent string
	transport *http.Transport
}

// New constructs a Client. userAgent is sent on every request (spec.md
// §4.2: "a conservative User-Agent").
func New(userAgent string) *Client {
	return &Client{
		userAgent: userAgent,
		transport: &http.Transport{
			ResponseHeaderTimeout: 0, // bounded per-call via context instead
		},
	}
}

func (c *Client) client() *http.Client {
	return &http.Client{
		Transport: c.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > MaxRedirects {
				return fmt.Errorf("httpfetch: stopped after %d redirects", MaxRedirects)
			}
			return nil
		},
	}
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, readBody bool) (ports.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return ports.Response{}, &ports.HTTPError{Kind: ports.ErrKindProtocol, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return ports.Response{}, classifyErr(err)
	}
	defer resp.Body.Close()

	out := ports.Response{
		Status:  resp.StatusCode,
		Headers: lowerHeaders(resp.Header),
	}

	if readBody {
		limited := io.LimitReader(resp.Body, MaxBodyBytes+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			return ports.Response{}, classifyErr(err)
		}
		if len(body) > MaxBodyBytes {
			return ports.Response{}, &ports.HTTPError{Kind: ports.ErrKindProtocol, Err: ErrBodyTooLarge}
		}
		out.BodyBytes = body
	}
	return out, nil
}

// Head sends a conditional HEAD request.
func (c *Client) Head(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (ports.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.do(ctx, http.MethodHead, url, headers, false)
}

// Get sends a (possibly conditional) GET request, reading the body up to
// MaxBodyBytes.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (ports.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, url, headers, true)
}

func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

func classifyErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ports.HTTPError{Kind: ports.ErrKindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ports.HTTPError{Kind: ports.ErrKindTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ports.HTTPError{Kind: ports.ErrKindNetwork, Err: err}
	}
	return &ports.HTTPError{Kind: ports.ErrKindNetwork, Err: err}
}
