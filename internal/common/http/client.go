// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// TokenSource supplies the bearer token attached to every outgoing request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options configures a Client. Zero RateLimit disables limiting.
type Options struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Tokens    TokenSource
}

// Client is a JSON HTTP client bound to one remote service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     TokenSource
}

// RequestError is returned when no response was received. Dispatched reports whether the
// request had been fully written to the connection, in which case the remote side may have
// acted on it.
type RequestError struct {
	Method     string
	URL        string
	Dispatched bool
	Err        error
}

func (e *RequestError) Error() string {
	state := "not sent"
	if e.Dispatched {
		state = "sent, no response"
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Method, e.URL, state, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsDispatched reports whether err is a RequestError for a request that reached the wire.
func IsDispatched(err error) bool {
	var reqErr *RequestError
	return stderrors.As(err, &reqErr) && reqErr.Dispatched
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func New(baseURL string, opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		tokens:     opts.Tokens,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// GetJSON issues a GET against path relative to the base URL.
func (c *Client) GetJSON(ctx context.Context, path string) (*Response, error) {
	return c.send(ctx, http.MethodGet, path, nil)
}

// PostJSON marshals body and POSTs it to path relative to the base URL.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.send(ctx, http.MethodPost, path, payload)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	url := c.baseURL + path
	fail := func(dispatched bool, err error) (*Response, error) {
		return nil, &RequestError{Method: method, URL: url, Dispatched: dispatched, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fail(false, fmt.Errorf("rate limiter: %w", err))
		}
	}

	var written atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, url, reader)
	if err != nil {
		return fail(false, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fail(false, fmt.Errorf("obtain service token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(written.Load(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// Headers arrived, so the request was processed; only the body was lost.
		return fail(true, fmt.Errorf("read response body: %w", err))
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// IsTransientStatus returns true if the HTTP status code indicates a potentially transient error
// that was not acted upon by the server. 502 and 504 are excluded: a gateway sends them when it
// loses the upstream answer, after the upstream may have acted.
func IsTransientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}
