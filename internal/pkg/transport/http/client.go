// Package http provides a configurable HTTP client built on HashiCorp's
// retryablehttp, plus a small JSON POST helper that turns non-2xx responses
// into typed StatusError values so callers can classify them.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 512

// StatusError is returned for responses with a non-2xx status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d: %s", e.StatusCode, e.Body)
}

// config holds internal settings for the HTTP client.
type config struct {
	timeout      time.Duration // maximum duration for a single HTTP request
	retryWaitMin time.Duration // minimum delay between retry attempts
	retryWaitMax time.Duration // maximum delay between retry attempts
	retryMax     int           // maximum number of retry attempts
}

// Option defines a functional option for configuring the HTTP client.
type Option func(*config)

// NewClient creates and returns a retryablehttp.Client configured with
// the provided options. If no options are given, default values are used:
//
//   - timeout:      10 seconds
//   - retryWaitMin: 1 second
//   - retryWaitMax: 5 seconds
//   - retryMax:     0 retries
//
// Once retries are exhausted the last response is handed back untouched
// instead of being converted into an opaque "giving up" error, so status
// codes remain visible to CheckResponse.
func NewClient(opts ...Option) *retryablehttp.Client {
	cfg := config{
		timeout:      10 * time.Second,
		retryWaitMin: 1 * time.Second,
		retryWaitMax: 5 * time.Second,
		retryMax:     0,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.timeout
	client.RetryWaitMin = cfg.retryWaitMin
	client.RetryWaitMax = cfg.retryWaitMax
	client.RetryMax = cfg.retryMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// WithTimeout sets the maximum duration allowed for a single HTTP request.
// Default: 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithRetryWaitMin sets the minimum delay between retry attempts.
// Default: 1 second.
func WithRetryWaitMin(d time.Duration) Option {
	return func(c *config) {
		c.retryWaitMin = d
	}
}

// WithRetryWaitMax sets the maximum delay between retry attempts.
// Default: 5 seconds.
func WithRetryWaitMax(d time.Duration) Option {
	return func(c *config) {
		c.retryWaitMax = d
	}
}

// WithRetryMax sets the maximum number of transport-level retries.
// Default: 0, leaving retries to the caller's retry policy.
func WithRetryMax(n int) Option {
	return func(c *config) {
		c.retryMax = n
	}
}

// CheckResponse returns a *StatusError when res carries a non-2xx status.
func CheckResponse(res *nethttp.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return &StatusError{
		StatusCode: res.StatusCode,
		Body:       string(bytes.TrimSpace(body)),
	}
}

// PostJSON encodes in as the request body, sends it to url and decodes the
// JSON response into out. Extra headers are added to the request.
func PostJSON(ctx context.Context, client *retryablehttp.Client, url string, header nethttp.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodPost, url, body)
	if err != nil {
		return err
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := CheckResponse(res); err != nil {
		return err
	}

	return json.NewDecoder(res.Body).Decode(out)
}
