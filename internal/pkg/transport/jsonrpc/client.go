// Package jsonrpc provides a generic JSON-RPC 2.0 client over HTTP, suitable
// for EVM nodes and any other JSON-RPC compatible service.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	transporthttp "github.com/gabapcia/addresswatch/internal/pkg/transport/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrProviderReturnedError indicates that the remote JSON-RPC server returned an error response.
var ErrProviderReturnedError = errors.New("provider error")

// ProviderError carries the JSON-RPC error object returned by the server.
// It matches ErrProviderReturnedError with errors.Is.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: [%d] - %s", ErrProviderReturnedError, e.Code, e.Message)
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderReturnedError
}

// response represents a standard JSON-RPC 2.0 response.
type response struct {
	JsonRPC string `json:"jsonrpc"` // JSON-RPC protocol version (usually "2.0")
	Error   *struct {
		Code    int    `json:"code"`    // JSON-RPC 2.0 or server-defined error code
		Message string `json:"message"` // Human-readable error message
	} `json:"error"`
	Result json.RawMessage `json:"result"` // Raw result payload returned by the server
}

// Err returns a *ProviderError if the response includes a JSON-RPC error object.
func (r response) Err() error {
	if r.Error == nil {
		return nil
	}

	return &ProviderError{Code: r.Error.Code, Message: r.Error.Message}
}

// Client defines the interface for a generic JSON-RPC client.
type Client interface {
	// Fetch sends a JSON-RPC request with the given method name and parameters.
	// It returns the raw JSON result or an error if the request or response fails.
	// HTTP level failures are reported as *transporthttp.StatusError.
	Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// client is the default implementation of the Client interface.
type client struct {
	providerEndpoint string                // The URL of the remote JSON-RPC server
	httpClient       *retryablehttp.Client // The HTTP client used to perform requests
	header           http.Header           // Extra headers sent with every request
}

// Compile-time assertion that client implements the Client interface.
var _ Client = (*client)(nil)

// Fetch sends a JSON-RPC request to the remote server with the given method and parameters.
// The `id` field in the request is generated as a UUID string.
func (c *client) Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	request := map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	}

	var data response
	if err := transporthttp.PostJSON(ctx, c.httpClient, c.providerEndpoint, c.header, request, &data); err != nil {
		return nil, err
	}

	if err := data.Err(); err != nil {
		return nil, err
	}

	return data.Result, nil
}

// Option configures a Client.
type Option func(*client)

// WithHeader adds a header sent with every request, e.g. a provider API key.
func WithHeader(key, value string) Option {
	return func(c *client) {
		c.header.Add(key, value)
	}
}

// NewClient constructs a Client that sends JSON-RPC requests to
// providerEndpoint using httpClient.
func NewClient(httpClient *retryablehttp.Client, providerEndpoint string, opts ...Option) *client {
	c := &client{
		providerEndpoint: providerEndpoint,
		httpClient:       httpClient,
		header:           make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}
