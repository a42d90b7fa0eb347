package gateway

import (
	"errors"
	"net/http"

	"mcpgateway/internal/lifecycle"
	"mcpgateway/internal/runtime"
)

// apiError is the JSON error body shape (spec.md §4.7).
type apiError struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
}

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidCredentials = errors.New("invalid credentials")
	errUpstreamTag        = errors.New("upstream unreachable")
	errUpstreamTimeoutTag = errors.New("upstream timed out")
)

// statusFor maps a Resolve/validation error to an HTTP status and message.
// It never sees an "oracle unavailable" error: handleProxy already folds an
// Unavailable verdict into errInvalidCredentials (401, the conservative
// default from spec.md §9's open question), so relaxing that to 503 is a
// change to the verdict switch in handleProxy, not to this table.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errMissingCredentials):
		return http.StatusBadRequest, "missing credentials"
	case errors.Is(err, errInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, lifecycle.ErrNoPortsAvailable):
		return http.StatusServiceUnavailable, "no ports available"
	case errors.Is(err, lifecycle.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable, "container runtime unavailable"
	case errors.Is(err, lifecycle.ErrImageUnavailable):
		return http.StatusServiceUnavailable, "backend image unavailable"
	case errors.Is(err, lifecycle.ErrProvisioningFailed):
		return http.StatusServiceUnavailable, "provisioning failed"
	case errors.Is(err, runtime.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable, "container runtime unavailable"
	case errors.Is(err, errUpstreamTimeoutTag):
		return http.StatusGatewayTimeout, "upstream timed out"
	case errors.Is(err, errUpstreamTag):
		return http.StatusBadGateway, "upstream unreachable"
	default:
		return http.StatusBadGateway, "provisioning failed"
	}
}
