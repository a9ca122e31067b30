package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gabapcia/addresswatch/internal/pkg/resilience/breaker"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/ratelimit"
	transporthttp "github.com/gabapcia/addresswatch/internal/pkg/transport/http"
	"github.com/gabapcia/addresswatch/internal/pkg/transport/jsonrpc"
)

var (
	// ErrTimeout is returned when an upstream call exceeds the request timeout.
	ErrTimeout = errors.New("upstream request timed out")

	// ErrRateLimited is returned when the upstream throttles us or the local
	// limiter cannot admit the call within its maximum wait.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrNotFound is returned when the upstream does not know the address.
	ErrNotFound = errors.New("address not found upstream")

	// ErrUpstream is returned for any other upstream failure.
	ErrUpstream = errors.New("upstream error")

	// ErrUnauthorized is an ErrUpstream raised by rejected credentials.
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", ErrUpstream)

	// ErrInvalidAddress is returned for addresses that are malformed or
	// rejected by the upstream as such.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrCircuitOpen is returned without calling the upstream while the breaker is open.
	ErrCircuitOpen = breaker.ErrCircuitOpen
)

// JSON-RPC error codes with a dedicated meaning.
const (
	rpcInvalidParams    = -32602
	rpcLimitExceeded    = -32005
	rpcTooManyRequests  = 429
	rpcResourceNotFound = -32001
)

// IsPermanent reports whether retrying the fetch can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized)
}

// CountsAsFailure reports whether err should count against the circuit
// breaker. Permanent rejections prove the upstream is answering.
func CountsAsFailure(err error) bool {
	return err != nil && !IsPermanent(err) && !IsLocal(err)
}

// IsLocal reports whether err was raised before reaching the upstream or by
// the caller giving up. Such errors say nothing about upstream health.
func IsLocal(err error) bool {
	return errors.Is(err, ratelimit.ErrWaitExceeded) ||
		errors.Is(err, context.Canceled)
}

// classify maps a raw upstream error onto one of the typed errors, keeping
// the original in the chain.
func classify(err error) error {
	var (
		statusErr   *transporthttp.StatusError
		providerErr *jsonrpc.ProviderError
		netErr      net.Error
	)

	var kind error
	switch {
	case errors.As(err, &statusErr):
		kind = classifyStatus(statusErr.StatusCode)
	case errors.As(err, &providerErr):
		kind = classifyRPC(providerErr.Code)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrTimeout
	default:
		kind = ErrUpstream
	}

	return fmt.Errorf("%w: %w", kind, err)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return ErrInvalidAddress
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrUpstream
	}
}

func classifyRPC(code int) error {
	switch code {
	case rpcInvalidParams:
		return ErrInvalidAddress
	case rpcLimitExceeded, rpcTooManyRequests:
		return ErrRateLimited
	case rpcResourceNotFound:
		return ErrNotFound
	default:
		return ErrUpstream
	}
}

// errorKind returns a short label for metrics and logs.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "upstream_error"
	}
}
